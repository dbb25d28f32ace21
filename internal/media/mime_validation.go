package media

import (
	"slices"

	"github.com/gabriel-vasile/mimetype"
)

// Kind names what an upload is for; each kind has its own allowed types.
type Kind string

const (
	KindReceipt      Kind = "receipt"
	KindCertificate  Kind = "certificate"
	KindProductImage Kind = "product_image"
)

var (
	imageTypes = []string{"image/jpeg", "image/png", "image/webp"}
	paperTypes = append([]string{"application/pdf"}, imageTypes...)
)

// contentPolicy is the set of sniffed types a kind accepts and how the
// rejection message describes them.
type contentPolicy struct {
	label string
	types []string
}

var policies = map[Kind]contentPolicy{
	KindReceipt:      {label: "PDFs or images", types: paperTypes},
	KindCertificate:  {label: "PDFs or images", types: paperTypes},
	KindProductImage: {label: "PNG, JPEG or WebP images", types: imageTypes},
}

// accepts matches against the sniffed type including its aliases, so
// image/jpg style variants still pass.
func (p contentPolicy) accepts(detected *mimetype.MIME) bool {
	return detected != nil && slices.ContainsFunc(p.types, detected.Is)
}

// AllowedTypes lists the content types accepted for kind, sorted.
func AllowedTypes(kind Kind) []string {
	types := slices.Clone(policies[kind].types)
	slices.Sort(types)
	return types
}
