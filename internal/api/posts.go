package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/utafrali/campusfeed/internal/domain"
)

const pathPosts = "core/posts/"

// Page is one page of a list endpoint. Endpoints that return a bare array
// are reported as a single page holding every item.
type Page[T any] struct {
	Count   int
	HasNext bool
	Results []T
}

type pageEnvelope[T any] struct {
	Count   *int    `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// decodeList accepts either a JSON array or a {"count", "next", "results"}
// envelope.
func decodeList[T any](raw json.RawMessage) (Page[T], error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Page[T]{}, fmt.Errorf("decode list: %w", err)
		}
		if items == nil {
			items = []T{}
		}
		return Page[T]{Count: len(items), Results: items}, nil
	}

	var env pageEnvelope[T]
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Page[T]{}, fmt.Errorf("decode page: %w", err)
	}
	page := Page[T]{Results: env.Results, HasNext: env.Next != nil && *env.Next != ""}
	if page.Results == nil {
		page.Results = []T{}
	}
	page.Count = len(page.Results)
	if env.Count != nil {
		page.Count = *env.Count
	}
	return page, nil
}

func postPath(id int64) string {
	return pathPosts + strconv.FormatInt(id, 10) + "/"
}

// ListPosts returns the first page of the feed.
func (c *Client) ListPosts(ctx context.Context) ([]domain.Post, error) {
	page, err := c.ListPostsPage(ctx, 1)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// ListPostsPage returns the given 1-based page of the feed.
func (c *Client) ListPostsPage(ctx context.Context, page int) (Page[domain.Post], error) {
	r := newRequest(http.MethodGet, pathPosts)
	if page > 1 {
		r.query = url.Values{"page": {strconv.Itoa(page)}}
	}

	var raw json.RawMessage
	if err := c.do(ctx, r, &raw); err != nil {
		return Page[domain.Post]{}, err
	}
	return decodeList[domain.Post](raw)
}

// GetPost fetches a single post.
func (c *Client) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	var p domain.Post
	if err := c.do(ctx, newRequest(http.MethodGet, postPath(id)), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePost publishes a post. The request is multipart when an image is
// attached and JSON otherwise.
func (c *Client) CreatePost(ctx context.Context, in domain.PostInput) (*domain.Post, error) {
	return c.writePost(ctx, http.MethodPost, pathPosts, in)
}

// UpdatePost replaces a post's title, content and optionally its image.
func (c *Client) UpdatePost(ctx context.Context, id int64, in domain.PostInput) (*domain.Post, error) {
	return c.writePost(ctx, http.MethodPut, postPath(id), in)
}

func (c *Client) writePost(ctx context.Context, method, path string, in domain.PostInput) (*domain.Post, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var (
		r   *request
		err error
	)
	if in.Image != nil {
		r, err = multipartRequest(method, path,
			[]formField{{"title", in.Title}, {"content", in.Content}}, "image", in.Image)
	} else {
		r, err = jsonRequest(method, path, in)
	}
	if err != nil {
		return nil, err
	}

	var p domain.Post
	if err := c.do(ctx, r, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePost removes a post owned by the current user.
func (c *Client) DeletePost(ctx context.Context, id int64) error {
	return c.do(ctx, newRequest(http.MethodDelete, postPath(id)), nil)
}

// ToggleLike likes or unlikes a post for the current user.
func (c *Client) ToggleLike(ctx context.Context, id int64) (domain.LikeResult, error) {
	var res domain.LikeResult
	if err := c.do(ctx, newRequest(http.MethodPost, postPath(id)+"toggle_like/"), &res); err != nil {
		return domain.LikeResult{}, err
	}
	return res, nil
}
