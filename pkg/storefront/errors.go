package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/types"
)

// APIError is a non-2xx response. It unwraps to the typed error so callers
// can use pkgerrors.IsCode on anything the client returns.
type APIError struct {
	Status int
	Err    *pkgerrors.Error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront api %d: %s", e.Status, e.Err.Error())
}

func (e *APIError) Unwrap() error {
	return e.Err
}

type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "storefront transport: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

func decodeError(status int, body []byte) error {
	var env types.Failure
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
		msg := http.StatusText(status)
		if msg == "" {
			msg = "unexpected status"
		}
		return &APIError{Status: status, Err: pkgerrors.New(pkgerrors.CodeForStatus(status), msg)}
	}
	typed := pkgerrors.New(pkgerrors.Code(env.Error.Code), env.Error.Message)
	if env.Error.Details != nil {
		typed = typed.WithDetails(env.Error.Details)
	}
	return &APIError{Status: status, Err: typed}
}

// IsRetryable reports whether err is worth one more attempt: transport
// failures, timeouts and 5xx responses. 4xx responses and cancellations never
// are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || pkgerrors.Retryable(apiErr.Err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *transportError
	return errors.As(err, &te)
}

func validation(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}
