package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/utafrali/campusfeed/internal/domain"
	"github.com/utafrali/campusfeed/pkg/httputil"
	"github.com/utafrali/campusfeed/pkg/middleware"
	"github.com/utafrali/campusfeed/pkg/validator"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// decodeJSON reads and validates a JSON body. On failure it writes a 400 and
// returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			httputil.WriteDetail(w, http.StatusBadRequest, "JSON parse error - empty body")
			return false
		}
		httputil.WriteDetail(w, http.StatusBadRequest, "JSON parse error - "+err.Error())
		return false
	}
	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseMultipart reads a multipart body. On failure it writes a 400 and
// returns false.
func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		httputil.WriteDetail(w, http.StatusBadRequest, fmt.Sprintf("Multipart form parse error - %v", err))
		return false
	}
	return true
}

// formValue returns a multipart field and whether it was sent.
func formValue(r *http.Request, name string) (string, bool) {
	if r.MultipartForm == nil {
		return "", false
	}
	v, ok := r.MultipartForm.Value[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// saveUpload stores the file sent under field, if any, and returns its URL.
func saveUpload(r *http.Request, media *MediaStore, field string) (string, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return "", nil
	}
	key, err := media.Save(r.MultipartForm.File[field][0])
	if err != nil {
		return "", err
	}
	return mediaURL(r, key), nil
}

// viewerID returns the authenticated user id, or 0 for anonymous requests.
func viewerID(r *http.Request) int64 {
	id, err := strconv.ParseInt(middleware.UserIDFromContext(r.Context()), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// publicProfile drops private fields from a user.
func publicProfile(u domain.User) domain.User {
	u.Email = ""
	return u
}
