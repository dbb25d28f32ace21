package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampAndProbe(t *testing.T) {
	assert.Equal(t, DefaultLimit, Clamp(0))
	assert.Equal(t, MaxLimit, Clamp(10_000))
	assert.Equal(t, 7, Clamp(7))
	assert.Equal(t, 8, Probe(7))
}

func TestCursorTokenRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 4, 2, 9, 30, 0, 123456789, time.UTC), ID: uuid.New()}
	token := c.Encode()
	assert.NotContains(t, token, "=")

	got, err := Decode(token)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(c.CreatedAt))
	assert.Equal(t, c.ID, got.ID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	got, err := Decode("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, token := range []string{"%%%", "bm9jb2xvbg", "MTIzOm5vdC1hLXV1aWQ"} {
		_, err := Decode(token)
		assert.ErrorIs(t, err, errMalformed, token)
	}
}

func TestTrim(t *testing.T) {
	rows := []int{5, 4, 3}
	at := func(v int) Cursor { return Cursor{CreatedAt: time.Unix(int64(v), 0)} }

	kept, next := Trim(rows, 2, at)
	assert.Equal(t, []int{5, 4}, kept)
	require.NotNil(t, next)
	assert.Equal(t, int64(4), next.CreatedAt.Unix())

	kept, next = Trim(rows, 3, at)
	assert.Len(t, kept, 3)
	assert.Nil(t, next)
}
