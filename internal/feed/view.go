// Package feed implements the browsing and publishing flows of the client:
// the post list, a post with its comments, likes and post creation.
package feed

import (
	"github.com/utafrali/campusfeed/internal/domain"
)

// ExcerptLength is the number of characters of content shown in the feed.
const ExcerptLength = 120

// Messages shown by the feed and post surfaces.
const (
	MsgPendingApproval = "Your account is pending admin approval. You can browse posts but not publish yet."
	MsgLoadFeedFailed  = "Failed to load posts."
	MsgLoadPostFailed  = "Failed to load post."
	MsgPostNotFound    = "Post not found."
	MsgLoginRequired   = "Please log in to continue."
	MsgNotCommentOwner = "You can only delete your own comments."
)

// Excerpt shortens content to ExcerptLength characters followed by "...".
// Shorter content is returned unchanged.
func Excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= ExcerptLength {
		return content
	}
	return string(runes[:ExcerptLength]) + "..."
}

// AuthorName returns the name shown for a post's author.
func AuthorName(p *domain.Post) string {
	return p.AuthorLabel()
}

// PostView is a post together with its comments, newest first as
// displayed.
type PostView struct {
	Post     *domain.Post
	Comments []domain.Comment
}
