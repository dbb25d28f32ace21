package validators

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

type lineInput struct {
	Variant string `json:"variant" validate:"required,weight"`
	Phone   string `json:"phone" validate:"omitempty,phone"`
	Qty     int    `json:"quantity" validate:"min=1,max=99"`
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyAcceptsWeights(t *testing.T) {
	for _, v := range []string{"500g", "1kg", "1.5 kg", "2,5kg"} {
		var in lineInput
		require.NoError(t, DecodeJSONBody(post(`{"variant":"`+v+`","quantity":2}`), &in), v)
	}
}

func TestDecodeJSONBodyFieldErrors(t *testing.T) {
	var in lineInput
	err := DecodeJSONBody(post(`{"variant":"a bucket","phone":"call me","quantity":0}`), &in)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details["variant"], "500g")
	assert.Equal(t, "must be a phone number", details["phone"])
	assert.Equal(t, "must be at least 1", details["quantity"])
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"unknown field":  `{"variant":"1kg","quantity":1,"discount":50}`,
		"wrong type":     `{"variant":"1kg","quantity":"two"}`,
		"trailing value": `{"variant":"1kg","quantity":1}{"variant":"1kg"}`,
		"oversized":      `{"variant":"` + strings.Repeat("x", maxJSONBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var in lineInput
			err := DecodeJSONBody(post(body), &in)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Ana", SanitizeString("  Ana\x00 ", 0))
	assert.Equal(t, "line one\nline two", SanitizeString("line one\nline two\x07", 100))

	cut := SanitizeString("João Pescador", 3)
	assert.Equal(t, "Joã", cut)
	assert.True(t, utf8.ValidString(SanitizeString(strings.Repeat("ã", 50), 7)))

	// decomposed input is composed before counting
	assert.Equal(t, "\u00e3", SanitizeString("a\u0303", 1))
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&bad=x&big=900", nil)
	v, err := ParseQueryInt(r, "limit", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	v, err = ParseQueryInt(r, "missing", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	_, err = ParseQueryInt(r, "bad", 50, 1, 200)
	assert.Error(t, err)
	_, err = ParseQueryInt(r, "big", 50, 1, 200)
	assert.Error(t, err)
}

func TestQueryOneOf(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?view=PAST&bad=archived", nil)
	v, err := QueryOneOf(r, "view", "current", "past")
	require.NoError(t, err)
	assert.Equal(t, "past", v)

	v, err = QueryOneOf(r, "absent", "current", "past")
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = QueryOneOf(r, "bad", "current", "past")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryEnum(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?status=confirmed&junk=nope", nil)
	status, err := ParseQuery(r, "status", enums.ParseOrderStatus)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, enums.OrderStatus("confirmed"), *status)

	none, err := ParseQuery(r, "missing", enums.ParseOrderStatus)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseQuery(r, "junk", enums.ParseOrderStatus)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func multipartRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		part, err := mw.CreateFormFile("receipt", "transfer.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestOptionalFormFile(t *testing.T) {
	r := multipartRequest(t, map[string]string{"order": "{}"}, nil)
	require.True(t, IsMultipart(r))
	file, release, err := OptionalFormFile(httptest.NewRecorder(), r, "receipt", 64)
	require.NoError(t, err)
	assert.Nil(t, file)
	release()

	r = multipartRequest(t, nil, []byte("receipt"))
	file, release, err = OptionalFormFile(httptest.NewRecorder(), r, "receipt", 64)
	require.NoError(t, err)
	require.NotNil(t, file)
	data, err := io.ReadAll(file.Body)
	require.NoError(t, err)
	assert.Equal(t, "receipt", string(data))
	release()

	r = multipartRequest(t, nil, bytes.Repeat([]byte("x"), 65))
	_, _, err = OptionalFormFile(httptest.NewRecorder(), r, "receipt", 64)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	r = multipartRequest(t, nil, nil)
	_, _, err = FormFile(httptest.NewRecorder(), r, "receipt", 64)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONField(t *testing.T) {
	r := multipartRequest(t, map[string]string{"line": `{"variant":"1kg","quantity":2}`}, nil)
	var in lineInput
	require.NoError(t, DecodeJSONField(r, "line", &in))
	assert.Equal(t, 2, in.Qty)

	r = multipartRequest(t, map[string]string{"line": `{"variant":"1kg","quantity":2,"extra":true}`}, nil)
	assert.True(t, pkgerrors.IsCode(DecodeJSONField(r, "line", &lineInput{}), pkgerrors.CodeValidation))

	r = multipartRequest(t, map[string]string{"line": `{"variant":"1kg","quantity":0}`}, nil)
	assert.True(t, pkgerrors.IsCode(DecodeJSONField(r, "line", &lineInput{}), pkgerrors.CodeValidation))

	r = multipartRequest(t, nil, nil)
	assert.True(t, pkgerrors.IsCode(DecodeJSONField(r, "line", &lineInput{}), pkgerrors.CodeValidation))
}
