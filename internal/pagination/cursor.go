// Package pagination implements keyset cursors over (created_at, id)
// for list endpoints. Cursors are opaque to clients; listings fetch
// limit+1 rows and use ComputePage to decide whether a next page exists.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor marks cursors that fail to decode. Handlers map it
// to a 400.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a decoded position: the sort key of the last row the
// client has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode packs a sort key into an opaque cursor string.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks a cursor. The empty string decodes to nil, meaning
// start from the first page.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanosStr, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(nanosStr, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage trims a limit+1 fetch down to the page and derives the
// next cursor from the page's last row. An empty cursor means the
// result set is exhausted.
func ComputePage[T any](rows []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(rows) <= limit {
		return rows, "", false
	}
	page := rows[:limit]
	createdAt, id := key(page[len(page)-1])
	return page, Encode(createdAt, id), true
}
