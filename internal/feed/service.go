package feed

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/utafrali/campusfeed/internal/api"
	"github.com/utafrali/campusfeed/internal/domain"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/logger"
)

// API is the part of the REST client the feed uses.
type API interface {
	ListPostsPage(ctx context.Context, page int) (api.Page[domain.Post], error)
	GetPost(ctx context.Context, id int64) (*domain.Post, error)
	CreatePost(ctx context.Context, in domain.PostInput) (*domain.Post, error)
	UpdatePost(ctx context.Context, id int64, in domain.PostInput) (*domain.Post, error)
	DeletePost(ctx context.Context, id int64) error
	ToggleLike(ctx context.Context, id int64) (domain.LikeResult, error)
	ListComments(ctx context.Context, postID int64) ([]domain.Comment, error)
	CreateComment(ctx context.Context, postID int64, content string) (*domain.Comment, error)
	DeleteComment(ctx context.Context, id int64) error
}

// Session reports who is logged in.
type Session interface {
	User() *domain.User
	CanCreatePost() bool
}

// Service runs the feed flows against the API on behalf of the session.
type Service struct {
	api     API
	session Session
	logger  *slog.Logger
}

// NewService creates a feed service.
func NewService(a API, s Session, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{api: a, session: s, logger: log}
}

// Feed returns the first page of posts.
func (s *Service) Feed(ctx context.Context) ([]domain.Post, error) {
	page, err := s.FeedPage(ctx, 1)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// FeedPage returns a 1-based page of posts.
func (s *Service) FeedPage(ctx context.Context, page int) (api.Page[domain.Post], error) {
	if page < 1 {
		page = 1
	}
	return s.api.ListPostsPage(ctx, page)
}

// Post loads a post and its comments concurrently.
func (s *Service) Post(ctx context.Context, id int64) (*PostView, error) {
	view := &PostView{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.api.GetPost(gctx, id)
		if err != nil {
			return err
		}
		view.Post = p
		return nil
	})
	g.Go(func() error {
		comments, err := s.api.ListComments(gctx, id)
		if err != nil {
			return err
		}
		view.Comments = comments
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if view.Comments == nil {
		view.Comments = []domain.Comment{}
	}
	return view, nil
}

// CreatePost publishes a post. Anonymous and unverified users are refused
// before any request is sent.
func (s *Service) CreatePost(ctx context.Context, in domain.PostInput) (*domain.Post, error) {
	if s.session.User() == nil {
		return nil, apperrors.Unauthorized(MsgLoginRequired)
	}
	if !s.session.CanCreatePost() {
		return nil, apperrors.NotVerified()
	}
	p, err := s.api.CreatePost(ctx, in)
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, s.logger).Info("post created", slog.Int64("post_id", p.ID))
	return p, nil
}

// UpdatePost replaces a post the current user wrote.
func (s *Service) UpdatePost(ctx context.Context, id int64, in domain.PostInput) (*domain.Post, error) {
	if s.session.User() == nil {
		return nil, apperrors.Unauthorized(MsgLoginRequired)
	}
	return s.api.UpdatePost(ctx, id, in)
}

// DeletePost removes a post the current user wrote.
func (s *Service) DeletePost(ctx context.Context, id int64) error {
	if s.session.User() == nil {
		return apperrors.Unauthorized(MsgLoginRequired)
	}
	return s.api.DeletePost(ctx, id)
}

// ToggleLike likes or unlikes post and merges the new count into it.
func (s *Service) ToggleLike(ctx context.Context, post *domain.Post) error {
	if s.session.User() == nil {
		return apperrors.Unauthorized(MsgLoginRequired)
	}
	res, err := s.api.ToggleLike(ctx, post.ID)
	if err != nil {
		return err
	}
	post.ApplyLike(res)
	return nil
}

// AddComment posts a comment and puts it at the top of view. Blank content
// is ignored and returns (nil, nil).
func (s *Service) AddComment(ctx context.Context, view *PostView, content string) (*domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	if s.session.User() == nil {
		return nil, apperrors.Unauthorized(MsgLoginRequired)
	}
	c, err := s.api.CreateComment(ctx, view.Post.ID, content)
	if err != nil {
		return nil, err
	}
	view.Comments = append([]domain.Comment{*c}, view.Comments...)
	return c, nil
}

// DeleteComment removes one of the current user's comments from the
// backend and from view.
func (s *Service) DeleteComment(ctx context.Context, view *PostView, commentID int64) error {
	idx := -1
	for i := range view.Comments {
		if view.Comments[i].ID == commentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperrors.NotFound("comment", strconv.FormatInt(commentID, 10))
	}
	if !view.Comments[idx].OwnedBy(s.session.User()) {
		return apperrors.Forbidden(MsgNotCommentOwner)
	}
	if err := s.api.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	view.Comments = append(view.Comments[:idx:idx], view.Comments[idx+1:]...)
	return nil
}

// LoadErrorMessage picks the text shown when a post cannot be loaded.
func LoadErrorMessage(err error) string {
	if errors.Is(err, apperrors.ErrNotFound) {
		return MsgPostNotFound
	}
	return apperrors.UserMessage(err, MsgLoadPostFailed)
}
