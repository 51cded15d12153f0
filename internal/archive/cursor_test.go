package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCursorRoundTrip(t *testing.T) {
	c, err := ParseCursor("2025-06-15:42")
	require.NoError(t, err)
	assert.Equal(t, Cursor{Day: "2025-06-15", Line: 42}, c)
	assert.Equal(t, "2025-06-15:42", c.String())
}

func TestParseCursorEmptyIsStart(t *testing.T) {
	c, err := ParseCursor("")
	require.NoError(t, err)
	assert.True(t, c.IsZero())
	assert.Equal(t, "", c.String())
}

func TestParseCursorRejectsMalformedTokens(t *testing.T) {
	for _, token := range []string{
		"2025-06-15",
		"june-15:3",
		"2025-06-15:abc",
		"2025-06-15:-1",
	} {
		_, err := ParseCursor(token)
		assert.Error(t, err, token)
	}
}

func TestCursorBefore(t *testing.T) {
	assert.True(t, Cursor{Day: "2025-01-01", Line: 5}.Before(Cursor{Day: "2025-01-02", Line: 0}))
	assert.True(t, Cursor{Day: "2025-01-01", Line: 5}.Before(Cursor{Day: "2025-01-01", Line: 6}))
	assert.False(t, Cursor{Day: "2025-01-01", Line: 5}.Before(Cursor{Day: "2025-01-01", Line: 5}))
}
