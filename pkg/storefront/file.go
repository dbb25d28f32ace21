package storefront

import (
	"bytes"
	"io"
	"strings"

	"github.com/tidecrate/storefront/internal/media"
)

// MaxImageBytes is the product image ceiling.
const MaxImageBytes int64 = 5 * 1024 * 1024

// File is an upload held in memory so its size is known before any network call.
type File struct {
	Name string
	Data []byte
}

func (f File) check(limit int64) error {
	if strings.TrimSpace(f.Name) == "" {
		return validation("file name required")
	}
	return media.CheckSize(int64(len(f.Data)), limit)
}

func (f File) reader() io.Reader {
	return bytes.NewReader(f.Data)
}
