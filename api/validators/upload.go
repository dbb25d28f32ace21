package validators

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tidecrate/storefront/internal/media"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

// multipartOverhead leaves room for part headers and small form fields.
const multipartOverhead = 1 << 20

// IsMultipart reports whether r carries a multipart/form-data body.
func IsMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

// FormFile reads one multipart file part. The declared size is checked against
// limit before any of the body is handed on. Call the returned func to release
// the part.
func FormFile(w http.ResponseWriter, r *http.Request, field string, limit int64) (media.File, func(), error) {
	file, release, err := OptionalFormFile(w, r, field, limit)
	if err != nil {
		return media.File{}, nil, err
	}
	if file == nil {
		release()
		return media.File{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "file is required").WithDetails(map[string]any{"field": field})
	}
	return *file, release, nil
}

// OptionalFormFile is FormFile for a part the client may leave out; a missing
// part yields a nil file. The release func is never nil.
func OptionalFormFile(w http.ResponseWriter, r *http.Request, field string, limit int64) (*media.File, func(), error) {
	if err := parseMultipart(w, r, limit); err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}
	part, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, cleanup, nil
	}
	if err != nil {
		cleanup()
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid file part").WithDetails(map[string]any{"field": field})
	}
	release := func() {
		_ = part.Close()
		cleanup()
	}
	if err := media.CheckSize(header.Size, limit); err != nil {
		release()
		return nil, nil, err
	}
	return &media.File{Name: header.Filename, Size: header.Size, Body: part}, release, nil
}

func parseMultipart(w http.ResponseWriter, r *http.Request, limit int64) error {
	if r.MultipartForm != nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return media.CheckSize(limit+1, limit)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart body")
	}
	return nil
}
