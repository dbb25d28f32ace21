package storefront

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/internal/certificates"
	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/querycache"
)

// Certificates lists an order's compliance documents with signed URLs.
func (c *Client) Certificates(ctx context.Context, orderID uuid.UUID) ([]certificates.CertificateDTO, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	return querycache.Fetch(ctx, c.cache, querycache.CertificatesForOrder(orderID), func(ctx context.Context) ([]certificates.CertificateDTO, error) {
		out := []certificates.CertificateDTO{}
		if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+orderID.String()+"/certificates", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// UploadCertificate attaches a document to an order. Files over
// MaxCertificateBytes are refused before any network call.
func (c *Client) UploadCertificate(ctx context.Context, orderID uuid.UUID, certType enums.CertificateType, file File) (*certificates.CertificateDTO, error) {
	if !certType.IsValid() {
		return nil, validation(fmt.Sprintf("invalid certificate type %q", certType))
	}
	if err := file.check(MaxCertificateBytes); err != nil {
		return nil, err
	}
	var out certificates.CertificateDTO
	err := c.exclusive(certificateMutation(orderID), func() error {
		req := c.request(ctx).
			SetFormData(map[string]string{"certificate_type": certType.String()}).
			SetFileReader("file", file.Name, file.reader())
		return c.send(req, http.MethodPost, "/api/admin/v1/orders/"+orderID.String()+"/certificates", &out)
	})
	if err != nil {
		return nil, err
	}
	c.cache.Invalidate(querycache.CertificatesForOrder(orderID))
	return &out, nil
}

// DeleteCertificate removes a document and its file.
func (c *Client) DeleteCertificate(ctx context.Context, orderID, certificateID uuid.UUID) error {
	err := c.exclusive(certificateMutation(orderID), func() error {
		return c.do(ctx, http.MethodDelete, "/api/admin/v1/certificates/"+certificateID.String(), nil, nil)
	})
	if err != nil {
		return err
	}
	c.cache.Invalidate(querycache.CertificatesForOrder(orderID))
	return nil
}

func certificateMutation(orderID uuid.UUID) string {
	return "certificate:" + orderID.String()
}
