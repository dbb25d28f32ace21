package storefront

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/internal/auth"
	"github.com/tidecrate/storefront/internal/users"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

// SignUp creates a customer account and signs it in.
func (c *Client) SignUp(ctx context.Context, req auth.SignupRequest) (*users.UserDTO, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || strings.TrimSpace(req.FullName) == "" {
		return nil, validation("email, password and full name are required")
	}
	var resp auth.SessionResponse
	err := c.withAuthRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/api/v1/auth/signup", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	c.cache.InvalidatePrefix("")
	c.session.establish(&resp, EventSignedIn)
	return resp.User, nil
}

// SignIn exchanges email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*users.UserDTO, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, validation("email and password are required")
	}
	req := auth.SigninRequest{Email: email, Password: password}
	var resp auth.SessionResponse
	err := c.withAuthRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/api/v1/auth/signin", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	c.cache.InvalidatePrefix("")
	c.session.establish(&resp, EventSignedIn)
	return resp.User, nil
}

// SignOut revokes the session server-side and clears it locally. The local
// session is cleared even if the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	var err error
	if c.session.AccessToken() != "" {
		err = c.withAuthRetry(ctx, func() error {
			return c.do(ctx, http.MethodPost, "/api/v1/auth/signout", nil, nil)
		})
	}
	c.session.clear(false)
	c.cache.InvalidatePrefix("")
	return err
}

// Refresh rotates the token pair.
func (c *Client) Refresh(ctx context.Context) error {
	creds := c.session.Credentials()
	if creds.RefreshToken == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "no session to refresh")
	}
	req := auth.RefreshRequest{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken}
	var resp auth.SessionResponse
	err := c.withAuthRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", req, &resp)
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
			c.session.clear(false)
		}
		return err
	}
	c.session.establish(&resp, EventTokenRefreshed)
	return nil
}

// Restore resumes a stored session. It runs once per client; subscribers
// receive initial_session with the user, or with none if the credentials are
// no longer valid. An expired access token is refreshed first.
func (c *Client) Restore(ctx context.Context, creds Credentials) (*users.UserDTO, error) {
	if !c.session.beginInit() {
		return c.session.Current(), nil
	}
	if creds.AccessToken == "" {
		c.session.clear(true)
		return nil, nil
	}

	user, err := c.fetchSession(ctx, creds.AccessToken)
	if pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) && creds.RefreshToken != "" {
		var resp auth.SessionResponse
		req := auth.RefreshRequest{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken}
		err = c.withAuthRetry(ctx, func() error {
			return c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", req, &resp)
		})
		if err == nil {
			creds = Credentials{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, ExpiresAt: resp.ExpiresAt}
			user = resp.User
		}
	}
	if err != nil {
		c.session.clear(true)
		if pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
			return nil, nil
		}
		return nil, err
	}
	c.session.restored(creds, user)
	return user, nil
}

func (c *Client) fetchSession(ctx context.Context, token string) (*users.UserDTO, error) {
	var user users.UserDTO
	err := c.withAuthRetry(ctx, func() error {
		req := c.http.R().SetContext(ctx).SetAuthToken(token)
		return c.send(req, http.MethodGet, "/api/v1/auth/session", &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) requireUser() error {
	if c.session.UserID() == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in required")
	}
	return nil
}
