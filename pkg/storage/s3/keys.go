package s3

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ReceiptKey is the object key for a customer's payment receipt.
func ReceiptKey(userID, orderID uuid.UUID, filename string, at time.Time) string {
	return fmt.Sprintf("receipts/%s/%s/%d-%s", userID, orderID, at.Unix(), SafeFileName(filename))
}

// CertificateKey is the object key for order compliance paperwork.
func CertificateKey(orderID uuid.UUID, filename string, at time.Time) string {
	return fmt.Sprintf("certificates/%s/%d-%s", orderID, at.Unix(), SafeFileName(filename))
}

// ProductImageKey is the object key for a product photo.
func ProductImageKey(productID uuid.UUID, filename string, at time.Time) string {
	return fmt.Sprintf("products/%s/%d-%s", productID, at.Unix(), SafeFileName(filename))
}

// SafeFileName drops any directory part and replaces characters that do not
// belong in an object key.
func SafeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	base = unsafeNameRe.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" || base == "/" {
		return "file"
	}
	return base
}
