package storefront

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/internal/cart"
	"github.com/tidecrate/storefront/internal/products"
	"github.com/tidecrate/storefront/pkg/querycache"
)

// Cart returns the signed-in user's priced cart, from cache when fresh.
func (c *Client) Cart(ctx context.Context) (cart.View, error) {
	if err := c.requireUser(); err != nil {
		return cart.View{}, err
	}
	return querycache.Fetch(ctx, c.cache, querycache.CartForUser(c.session.UserID()), c.fetchCart)
}

func (c *Client) fetchCart(ctx context.Context) (cart.View, error) {
	var view cart.View
	if err := c.do(ctx, http.MethodGet, "/api/v1/cart", nil, &view); err != nil {
		return cart.View{}, err
	}
	return view, nil
}

// AddToCart adds quantity of a product variant, merging with an existing line.
func (c *Client) AddToCart(ctx context.Context, input cart.AddItemInput) (cart.View, error) {
	if err := c.requireUser(); err != nil {
		return cart.View{}, err
	}
	if input.ProductID == uuid.Nil {
		return cart.View{}, validation("product id required")
	}
	if input.Quantity < 1 || input.Quantity > cart.MaxLineQuantity {
		return cart.View{}, validation("quantity must be between 1 and 99")
	}
	if _, err := products.ParseVariant(strings.TrimSpace(input.Variant)); err != nil {
		return cart.View{}, err
	}
	var view cart.View
	err := c.mutateCart("add:"+input.ProductID.String()+":"+strings.TrimSpace(input.Variant), func() error {
		return c.do(ctx, http.MethodPost, "/api/v1/cart/items", input, &view)
	})
	if err != nil {
		return cart.View{}, err
	}
	return view, nil
}

// SetCartQuantity changes a line's quantity. Zero removes the line.
func (c *Client) SetCartQuantity(ctx context.Context, itemID uuid.UUID, quantity int) (cart.View, error) {
	if err := c.requireUser(); err != nil {
		return cart.View{}, err
	}
	if quantity < 0 || quantity > cart.MaxLineQuantity {
		return cart.View{}, validation("quantity must be between 0 and 99")
	}
	var view cart.View
	body := map[string]int{"quantity": quantity}
	err := c.mutateCart("item:"+itemID.String(), func() error {
		return c.do(ctx, http.MethodPatch, "/api/v1/cart/items/"+itemID.String(), body, &view)
	})
	if err != nil {
		return cart.View{}, err
	}
	return view, nil
}

// RemoveFromCart deletes one line.
func (c *Client) RemoveFromCart(ctx context.Context, itemID uuid.UUID) (cart.View, error) {
	if err := c.requireUser(); err != nil {
		return cart.View{}, err
	}
	var view cart.View
	err := c.mutateCart("item:"+itemID.String(), func() error {
		return c.do(ctx, http.MethodDelete, "/api/v1/cart/items/"+itemID.String(), nil, &view)
	})
	if err != nil {
		return cart.View{}, err
	}
	return view, nil
}

// ClearCart empties the cart.
func (c *Client) ClearCart(ctx context.Context) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	return c.mutateCart("clear", func() error {
		return c.do(ctx, http.MethodDelete, "/api/v1/cart", nil, nil)
	})
}

// mutateCart runs one cart write under its busy flag and invalidates the
// cached cart once the write lands.
func (c *Client) mutateCart(name string, write func() error) error {
	userID := c.session.UserID()
	err := c.exclusive("cart:"+userID.String()+":"+name, write)
	if err != nil {
		return err
	}
	c.cache.Invalidate(querycache.CartForUser(userID))
	return nil
}
