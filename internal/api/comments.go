package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/utafrali/campusfeed/internal/domain"
)

const pathComments = "comments/"

// ListComments returns the comments of a post.
func (c *Client) ListComments(ctx context.Context, postID int64) ([]domain.Comment, error) {
	r := newRequest(http.MethodGet, pathComments)
	r.query = url.Values{"post": {strconv.FormatInt(postID, 10)}}

	var raw json.RawMessage
	if err := c.do(ctx, r, &raw); err != nil {
		return nil, err
	}
	page, err := decodeList[domain.Comment](raw)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// CreateComment adds a comment to a post.
func (c *Client) CreateComment(ctx context.Context, postID int64, content string) (*domain.Comment, error) {
	in := domain.CommentInput{Post: postID, Content: content}
	if err := validate(in); err != nil {
		return nil, err
	}
	r, err := jsonRequest(http.MethodPost, pathComments, in)
	if err != nil {
		return nil, err
	}

	var cm domain.Comment
	if err := c.do(ctx, r, &cm); err != nil {
		return nil, err
	}
	return &cm, nil
}

// DeleteComment removes a comment owned by the current user.
func (c *Client) DeleteComment(ctx context.Context, id int64) error {
	return c.do(ctx, newRequest(http.MethodDelete, pathComments+strconv.FormatInt(id, 10)+"/"), nil)
}
