package domain

import (
	"io"
	"time"
)

// UnknownAuthor is shown for posts whose author is missing.
const UnknownAuthor = "Unknown"

// AnonymousCommenter is shown for comments whose author is missing.
const AnonymousCommenter = "Anon"

// Post is an item of the campus feed.
type Post struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Image      string    `json:"image,omitempty"`
	Author     *User     `json:"author,omitempty"`
	AuthorName string    `json:"author_name,omitempty"`
	LikesCount int       `json:"likes_count"`
	IsLiked    bool      `json:"is_liked"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// AuthorLabel returns the author's username, the flat author_name some list
// serializers send, or UnknownAuthor.
func (p *Post) AuthorLabel() string {
	switch {
	case p.Author != nil && p.Author.Username != "":
		return p.Author.Username
	case p.AuthorName != "":
		return p.AuthorName
	default:
		return UnknownAuthor
	}
}

// ApplyLike merges a toggle_like response into the post.
func (p *Post) ApplyLike(r LikeResult) {
	p.LikesCount = r.LikesCount
	p.IsLiked = r.IsLiked
}

// LikeResult is returned by core/posts/:id/toggle_like/.
type LikeResult struct {
	LikesCount int  `json:"likes_count"`
	IsLiked    bool `json:"is_liked"`
}

// PostInput creates or replaces a post. A non-nil Image switches the request
// to multipart.
type PostInput struct {
	Title   string `json:"title" form:"title" validate:"notblank,max=200"`
	Content string `json:"content" form:"content" validate:"notblank"`
	Image   *File  `json:"-"`
}

// File is an upload attached to a multipart request.
type File struct {
	Name   string
	Reader io.Reader
}

// Comment belongs to a post.
type Comment struct {
	ID        int64     `json:"id"`
	Post      int64     `json:"post"`
	Content   string    `json:"content"`
	Author    *User     `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthorLabel returns the commenter's username or AnonymousCommenter.
func (c *Comment) AuthorLabel() string {
	if c.Author != nil && c.Author.Username != "" {
		return c.Author.Username
	}
	return AnonymousCommenter
}

// OwnedBy reports whether u wrote the comment.
func (c *Comment) OwnedBy(u *User) bool {
	return u != nil && c.Author != nil && c.Author.ID == u.ID
}

// CommentInput is posted to comments/.
type CommentInput struct {
	Post    int64  `json:"post" validate:"gt=0"`
	Content string `json:"content" validate:"notblank"`
}
