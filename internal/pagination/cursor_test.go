package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

	c, err := Decode(Encode(ts, "job_abc123"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, ts, c.CreatedAt)
	assert.Equal(t, "job_abc123", c.ID)
}

func TestDecodeFirstPage(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, c, "empty cursor means first page")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, bad := range []string{
		"not-base64!!!",
		"bm9waXBl", // decodes to "nopipe", no separator
		"eHx5",     // decodes to "x|y", non-numeric timestamp
	} {
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, "cursor %q", bad)
	}
}

func TestComputePage(t *testing.T) {
	key := func(s string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
	}

	// Fewer rows than the limit: no next page.
	page, next, more := ComputePage([]string{"job_a", "job_b"}, 5, key)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
	assert.False(t, more)

	// Exactly the limit (no sentinel row): still no next page.
	page, next, more = ComputePage([]string{"job_a", "job_b", "job_c"}, 3, key)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, more)

	// Sentinel row present: trimmed, cursor points at the page's last row.
	page, next, more = ComputePage([]string{"job_a", "job_b", "job_c", "job_d"}, 3, key)
	assert.Len(t, page, 3)
	assert.True(t, more)
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "job_c", c.ID)
}

func TestErrInvalidCursorIsMatchable(t *testing.T) {
	_, err := Decode("%%%")
	assert.True(t, errors.Is(err, ErrInvalidCursor))
}
