package mockapi

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/campusfeed/internal/domain"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/httputil"
	"github.com/utafrali/campusfeed/pkg/pagination"
	"github.com/utafrali/campusfeed/pkg/validator"
)

// MsgPendingApproval is the 403 detail sent to unverified posters.
const MsgPendingApproval = "Your account is pending admin approval."

// PostHandler serves core/posts/.
type PostHandler struct {
	store  *Store
	media  *MediaStore
	logger *slog.Logger
}

// NewPostHandler creates a post handler.
func NewPostHandler(store *Store, media *MediaStore, logger *slog.Logger) *PostHandler {
	return &PostHandler{store: store, media: media, logger: logger}
}

// List handles GET /api/core/posts/.
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	posts := h.store.ListPosts(viewerID(r))
	httputil.WriteJSON(w, http.StatusOK,
		pagination.NewPage(pagination.Slice(posts, params), len(posts), params, requestURL(r)))
}

// Create handles POST /api/core/posts/. Only verified students may post.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	author := viewerID(r)
	user, _, err := h.store.User(author)
	if err != nil {
		httputil.WriteError(w, r, apperrors.ErrUnauthorized, h.logger)
		return
	}
	if !user.IsVerified {
		httputil.WriteDetail(w, http.StatusForbidden, MsgPendingApproval)
		return
	}

	in, image, ok := h.readPost(w, r)
	if !ok {
		return
	}

	post, err := h.store.CreatePost(author, in.Title, in.Content, image)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.logger.InfoContext(r.Context(), "post created",
		slog.Int64("post_id", post.ID),
		slog.Int64("author_id", author),
	)
	httputil.WriteJSON(w, http.StatusCreated, post)
}

// Get handles GET /api/core/posts/{id}/.
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	post, err := h.store.Post(id, viewerID(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

// Update handles PUT /api/core/posts/{id}/. Only the author may edit.
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	in, image, ok := h.readPost(w, r)
	if !ok {
		return
	}
	post, err := h.store.UpdatePost(id, viewerID(r), in.Title, in.Content, image)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

// Delete handles DELETE /api/core/posts/{id}/. Only the author may delete.
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.store.DeletePost(id, viewerID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleLike handles POST /api/core/posts/{id}/toggle_like/.
func (h *PostHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	res, err := h.store.ToggleLike(id, viewerID(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// readPost reads a post body sent as JSON or multipart. The returned image is
// the URL of an uploaded file, or empty.
func (h *PostHandler) readPost(w http.ResponseWriter, r *http.Request) (domain.PostInput, string, bool) {
	var in domain.PostInput
	if !isMultipart(r) {
		return in, "", decodeJSON(w, r, &in)
	}

	if !parseMultipart(w, r) {
		return in, "", false
	}
	in.Title, _ = formValue(r, "title")
	in.Content, _ = formValue(r, "content")
	if err := validator.Validate(in); err != nil {
		httputil.WriteValidationError(w, err)
		return in, "", false
	}

	image, err := saveUpload(r, h.media, "image")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return in, "", false
	}
	return in, image, true
}

// requestURL rebuilds the absolute URL of r for pagination links.
func requestURL(r *http.Request) *url.URL {
	u, err := url.Parse(origin(r) + r.URL.RequestURI())
	if err != nil {
		return nil
	}
	return u
}

// CommentHandler serves comments/.
type CommentHandler struct {
	store  *Store
	logger *slog.Logger
}

// NewCommentHandler creates a comment handler.
func NewCommentHandler(store *Store, logger *slog.Logger) *CommentHandler {
	return &CommentHandler{store: store, logger: logger}
}

// List handles GET /api/comments/?post={id}.
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	var postID int64
	if raw := r.URL.Query().Get("post"); raw != "" {
		id, ok := httputil.ParseID(w, raw)
		if !ok {
			return
		}
		postID = id
	}
	params := pagination.FromRequest(r)
	comments := h.store.ListComments(postID)
	httputil.WriteJSON(w, http.StatusOK,
		pagination.NewPage(pagination.Slice(comments, params), len(comments), params, requestURL(r)))
}

// Create handles POST /api/comments/.
func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.CommentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	comment, err := h.store.CreateComment(in.Post, viewerID(r), in.Content)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, comment)
}

// Delete handles DELETE /api/comments/{id}/. Only the commenter may delete.
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.store.DeleteComment(id, viewerID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
