package api

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"

	"github.com/utafrali/campusfeed/internal/domain"
)

type formField struct {
	name  string
	value string
}

// multipartRequest buffers the whole form so the body can be replayed after
// a token refresh.
func multipartRequest(method, path string, fields []formField, fileField string, file *domain.File) (*request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", f.name, err)
		}
	}

	if file != nil && file.Reader != nil {
		part, err := w.CreateFormFile(fileField, filepath.Base(file.Name))
		if err != nil {
			return nil, fmt.Errorf("create form file %s: %w", fileField, err)
		}
		if _, err := io.Copy(part, file.Reader); err != nil {
			return nil, fmt.Errorf("copy %s: %w", fileField, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}
	return &request{
		method:      method,
		path:        path,
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, nil
}
