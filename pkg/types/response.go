// Package types holds the JSON envelopes shared by the HTTP API and its Go client.
package types

// Envelope wraps every successful response body: {"data": ...}.
type Envelope[T any] struct {
	Data T `json:"data"`
}

// ErrorBody is the public shape of a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Failure wraps ErrorBody: {"error": {...}}.
type Failure struct {
	Error ErrorBody `json:"error"`
}
