package mockapi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/campusfeed/internal/domain"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
)

type account struct {
	user         domain.User
	passwordHash []byte
	staff        bool
}

type post struct {
	domain.Post
	authorID int64
	likes    map[int64]struct{}
}

// Store holds the backend state in memory. All methods are safe for
// concurrent use.
type Store struct {
	mu         sync.RWMutex
	clock      clock.Clock
	bcryptCost int

	users      map[int64]*account
	byUsername map[string]int64
	posts      map[int64]*post
	comments   map[int64]*domain.Comment

	nextUser, nextPost, nextComment int64
}

// NewStore creates an empty store.
func NewStore(c clock.Clock, bcryptCost int) *Store {
	if c == nil {
		c = clock.New()
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Store{
		clock:      c,
		bcryptCost: bcryptCost,
		users:      make(map[int64]*account),
		byUsername: make(map[string]int64),
		posts:      make(map[int64]*post),
		comments:   make(map[int64]*domain.Comment),
	}
}

// CreateUser registers an account. Usernames are unique, case-insensitively.
func (s *Store) CreateUser(in domain.RegisterInput, verified, staff bool) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(in.Username)
	if _, ok := s.byUsername[key]; ok {
		return domain.User{}, apperrors.Validation([]apperrors.FieldError{
			{Field: "username", Message: "A user with that username already exists."},
		})
	}

	s.nextUser++
	acc := &account{
		user: domain.User{
			ID:         s.nextUser,
			Username:   in.Username,
			Email:      in.Email,
			FirstName:  in.FirstName,
			LastName:   in.LastName,
			IsVerified: verified,
		},
		passwordHash: hash,
		staff:        staff,
	}
	s.users[acc.user.ID] = acc
	s.byUsername[key] = acc.user.ID
	return acc.user, nil
}

// Authenticate checks a username and password.
func (s *Store) Authenticate(username, password string) (domain.User, bool, error) {
	s.mu.RLock()
	id, ok := s.byUsername[strings.ToLower(username)]
	var acc account
	if ok {
		acc = *s.users[id]
	}
	s.mu.RUnlock()

	if !ok {
		return domain.User{}, false, apperrors.Unauthorized("No active account found with the given credentials")
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return domain.User{}, false, apperrors.Unauthorized("No active account found with the given credentials")
	}
	return acc.user, acc.staff, nil
}

// User returns an account by id.
func (s *Store) User(id int64) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.users[id]
	if !ok {
		return domain.User{}, false, apperrors.NotFound("user", strconv.FormatInt(id, 10))
	}
	return acc.user, acc.staff, nil
}

// UpdateProfile changes the bio and, when avatar is not empty, the avatar.
func (s *Store) UpdateProfile(id int64, bio *string, avatar string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.users[id]
	if !ok {
		return domain.User{}, apperrors.NotFound("user", strconv.FormatInt(id, 10))
	}
	if bio != nil {
		acc.user.Bio = *bio
	}
	if avatar != "" {
		acc.user.Avatar = avatar
	}
	return acc.user, nil
}

// Verify marks an account verified.
func (s *Store) Verify(id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.users[id]
	if !ok {
		return domain.User{}, apperrors.NotFound("user", strconv.FormatInt(id, 10))
	}
	acc.user.IsVerified = true
	return acc.user, nil
}

// ListPosts returns every post newest first, rendered for viewer (0 for
// anonymous).
func (s *Store) ListPosts(viewer int64) []domain.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, s.renderPostLocked(p, viewer))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Post returns one post rendered for viewer.
func (s *Store) Post(id, viewer int64) (domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.Post{}, apperrors.ErrNotFound
	}
	return s.renderPostLocked(p, viewer), nil
}

// CreatePost stores a post written by author.
func (s *Store) CreatePost(author int64, title, content, image string) (domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[author]; !ok {
		return domain.Post{}, apperrors.ErrUnauthorized
	}
	s.nextPost++
	now := s.clock.Now().UTC()
	p := &post{
		Post: domain.Post{
			ID:        s.nextPost,
			Title:     title,
			Content:   content,
			Image:     image,
			CreatedAt: now,
			UpdatedAt: now,
		},
		authorID: author,
		likes:    make(map[int64]struct{}),
	}
	s.posts[p.ID] = p
	return s.renderPostLocked(p, author), nil
}

// UpdatePost replaces title and content, and the image when one is given.
// Only the author may update.
func (s *Store) UpdatePost(id, editor int64, title, content, image string) (domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.Post{}, apperrors.ErrNotFound
	}
	if p.authorID != editor {
		return domain.Post{}, apperrors.ErrForbidden
	}
	p.Title = title
	p.Content = content
	if image != "" {
		p.Image = image
	}
	p.UpdatedAt = s.clock.Now().UTC()
	return s.renderPostLocked(p, editor), nil
}

// DeletePost removes a post and its comments. Only the author may delete.
func (s *Store) DeletePost(id, requester int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if p.authorID != requester {
		return apperrors.ErrForbidden
	}
	delete(s.posts, id)
	for cid, c := range s.comments {
		if c.Post == id {
			delete(s.comments, cid)
		}
	}
	return nil
}

// ToggleLike flips user's like on a post.
func (s *Store) ToggleLike(id, user int64) (domain.LikeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.LikeResult{}, apperrors.ErrNotFound
	}
	_, liked := p.likes[user]
	if liked {
		delete(p.likes, user)
	} else {
		p.likes[user] = struct{}{}
	}
	return domain.LikeResult{LikesCount: len(p.likes), IsLiked: !liked}, nil
}

// ListComments returns a post's comments newest first. postID 0 lists all.
func (s *Store) ListComments(postID int64) []domain.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Comment, 0)
	for _, c := range s.comments {
		if postID == 0 || c.Post == postID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// CreateComment adds a comment to an existing post.
func (s *Store) CreateComment(postID, author int64, content string) (domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return domain.Comment{}, apperrors.Validation([]apperrors.FieldError{
			{Field: "post", Message: fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", postID)},
		})
	}
	acc, ok := s.users[author]
	if !ok {
		return domain.Comment{}, apperrors.ErrUnauthorized
	}
	s.nextComment++
	c := &domain.Comment{
		ID:        s.nextComment,
		Post:      postID,
		Content:   content,
		Author:    summary(acc.user),
		CreatedAt: s.clock.Now().UTC(),
	}
	s.comments[c.ID] = c
	return *c, nil
}

// DeleteComment removes a comment. Only its author may delete it.
func (s *Store) DeleteComment(id, requester int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if c.Author == nil || c.Author.ID != requester {
		return apperrors.ErrForbidden
	}
	delete(s.comments, id)
	return nil
}

func (s *Store) renderPostLocked(p *post, viewer int64) domain.Post {
	out := p.Post
	if acc, ok := s.users[p.authorID]; ok {
		out.Author = summary(acc.user)
	}
	out.LikesCount = len(p.likes)
	_, out.IsLiked = p.likes[viewer]
	return out
}

// summary is the author object embedded in posts and comments.
func summary(u domain.User) *domain.User {
	return &domain.User{
		ID:         u.ID,
		Username:   u.Username,
		Avatar:     u.Avatar,
		IsVerified: u.IsVerified,
	}
}
