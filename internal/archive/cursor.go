package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is a restart position inside a source's archive: the day plus
// the line index of the next unconsumed record. The checkpoint layer
// treats its string form as opaque.
type Cursor struct {
	Day  string
	Line int
}

// ParseCursor decodes the "<day>:<line>" token form. An empty token is
// a valid "start from the beginning" cursor.
func ParseCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	day, lineStr, ok := strings.Cut(token, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("parse cursor %q: missing line separator", token)
	}
	if _, err := time.Parse(DayFormat, day); err != nil {
		return Cursor{}, fmt.Errorf("parse cursor %q: %w", token, err)
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 0 {
		return Cursor{}, fmt.Errorf("parse cursor %q: bad line index", token)
	}
	return Cursor{Day: day, Line: line}, nil
}

// IsZero reports whether the cursor points at the beginning of time.
func (c Cursor) IsZero() bool { return c.Day == "" && c.Line == 0 }

// String renders the opaque token form.
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Day + ":" + strconv.Itoa(c.Line)
}

// Before reports strict ordering by (day, line).
func (c Cursor) Before(other Cursor) bool {
	if c.Day != other.Day {
		return c.Day < other.Day
	}
	return c.Line < other.Line
}
