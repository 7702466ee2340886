package mockapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/campusfeed/internal/domain"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/httputil"
	"github.com/utafrali/campusfeed/pkg/validator"
)

// AuthHandler serves the auth/ endpoints.
type AuthHandler struct {
	store      *Store
	tokens     *TokenManager
	media      *MediaStore
	autoVerify bool
	logger     *slog.Logger
}

// NewAuthHandler creates an auth handler. Accounts registered through it are
// verified immediately when autoVerify is set.
func NewAuthHandler(store *Store, tokens *TokenManager, media *MediaStore, autoVerify bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{store: store, tokens: tokens, media: media, autoVerify: autoVerify, logger: logger}
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type profilePatch struct {
	Bio *string `json:"bio" validate:"omitempty,max=500"`
}

// Register handles POST /api/auth/register/.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.store.CreateUser(req, h.autoVerify, false)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	pair, err := h.tokens.Issue(user, false)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.logger.InfoContext(r.Context(), "student registered",
		slog.Int64("user_id", user.ID),
		slog.Bool("verified", user.IsVerified),
	)
	httputil.WriteJSON(w, http.StatusCreated, pair)
}

// Token handles POST /api/auth/token/.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req domain.Credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	user, staff, err := h.store.Authenticate(req.Username, req.Password)
	if err != nil {
		httputil.WriteDetail(w, http.StatusUnauthorized, apperrors.FirstMessage(err))
		return
	}

	pair, err := h.tokens.Issue(user, staff)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// Refresh handles POST /api/auth/token/refresh/. The refresh token is not
// rotated.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	access, err := h.tokens.Refresh(req.Refresh)
	if err != nil {
		h.logger.DebugContext(r.Context(), "refresh rejected", slog.String("error", err.Error()))
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.DetailResponse{
			Detail: "Token is invalid or expired",
			Code:   "token_not_valid",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain.TokenPair{Access: access})
}

// Me handles GET /api/auth/me/.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, _, err := h.store.User(viewerID(r))
	if err != nil {
		httputil.WriteError(w, r, apperrors.ErrUnauthorized, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// UpdateMe handles PATCH /api/auth/me/ with a multipart or JSON body. Only
// bio and avatar can change.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var (
		patch  profilePatch
		avatar string
	)

	if isMultipart(r) {
		if !parseMultipart(w, r) {
			return
		}
		if bio, ok := formValue(r, "bio"); ok {
			patch.Bio = &bio
		}
		url, err := saveUpload(r, h.media, "avatar")
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		avatar = url
	} else if !decodeJSON(w, r, &patch) {
		return
	}

	if err := validator.Validate(patch); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, err := h.store.UpdateProfile(viewerID(r), patch.Bio, avatar)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// Profile handles GET /api/auth/profile/{id}/.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	user, _, err := h.store.User(id)
	if err != nil {
		httputil.WriteError(w, r, apperrors.ErrNotFound, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, publicProfile(user))
}

// AdminHandler serves staff-only endpoints.
type AdminHandler struct {
	store  *Store
	logger *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(store *Store, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{store: store, logger: logger}
}

// Verify handles POST /api/admin/users/{id}/verify/.
func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	user, err := h.store.Verify(id)
	if err != nil {
		httputil.WriteError(w, r, apperrors.ErrNotFound, h.logger)
		return
	}
	h.logger.InfoContext(r.Context(), "student verified",
		slog.String("user_id", strconv.FormatInt(id, 10)),
		slog.Int64("verified_by", viewerID(r)),
	)
	httputil.WriteJSON(w, http.StatusOK, user)
}
