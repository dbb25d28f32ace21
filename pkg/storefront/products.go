package storefront

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/internal/products"
)

// Products lists the available catalogue.
func (c *Client) Products(ctx context.Context) ([]products.ProductDTO, error) {
	var out []products.ProductDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Product fetches one available product by slug.
func (c *Client) Product(ctx context.Context, slug string) (*products.ProductDTO, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, validation("product slug required")
	}
	var out products.ProductDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(slug), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminProducts lists every product, available or not.
func (c *Client) AdminProducts(ctx context.Context) ([]products.ProductDTO, error) {
	var out []products.ProductDTO
	if err := c.do(ctx, http.MethodGet, "/api/admin/v1/products", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProduct adds a product to the catalogue.
func (c *Client) CreateProduct(ctx context.Context, input products.ProductInput) (*products.ProductDTO, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, validation("product name required")
	}
	var out products.ProductDTO
	err := c.exclusive("product:create:"+strings.ToLower(strings.TrimSpace(input.Name)), func() error {
		return c.do(ctx, http.MethodPost, "/api/admin/v1/products", input, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProduct replaces a product's editable fields.
func (c *Client) UpdateProduct(ctx context.Context, id uuid.UUID, input products.ProductInput) (*products.ProductDTO, error) {
	var out products.ProductDTO
	err := c.exclusive(productMutation(id), func() error {
		return c.do(ctx, http.MethodPut, "/api/admin/v1/products/"+id.String(), input, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetProductAvailability toggles whether customers can see and buy a product.
func (c *Client) SetProductAvailability(ctx context.Context, id uuid.UUID, available bool) (*products.ProductDTO, error) {
	body := map[string]bool{"is_available": available}
	var out products.ProductDTO
	err := c.exclusive(productMutation(id), func() error {
		return c.do(ctx, http.MethodPatch, "/api/admin/v1/products/"+id.String()+"/availability", body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProduct removes a product and its image.
func (c *Client) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return c.exclusive(productMutation(id), func() error {
		return c.do(ctx, http.MethodDelete, "/api/admin/v1/products/"+id.String(), nil, nil)
	})
}

// UploadProductImage replaces a product's image.
func (c *Client) UploadProductImage(ctx context.Context, id uuid.UUID, file File) (*products.ProductDTO, error) {
	if err := file.check(MaxImageBytes); err != nil {
		return nil, err
	}
	var out products.ProductDTO
	err := c.exclusive(productMutation(id), func() error {
		req := c.request(ctx).SetFileReader("file", file.Name, file.reader())
		return c.send(req, http.MethodPost, "/api/admin/v1/products/"+id.String()+"/image", &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func productMutation(id uuid.UUID) string {
	return "product:" + id.String()
}
