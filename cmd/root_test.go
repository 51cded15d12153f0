package cmd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelworks/lifelog/internal/archive"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"partial failure", fmt.Errorf("%w: 3 record(s) skipped", errPartialFailure), 1},
		{"generic error", fmt.Errorf("open manifest: permission denied"), 1},
		{"integrity violation", &archive.IntegrityError{Source: "chat", Day: "2025-01-01", Reason: "checksum mismatch"}, 2},
		{"wrapped integrity violation", fmt.Errorf("compress: %w", archive.ErrArchiveIntegrity), 2},
		{"unreadable segment", fmt.Errorf("read archive range: %w",
			fmt.Errorf("%w: chat/2025-01-01 at /gone.ndjson: no such file", archive.ErrArchiveUnreadable)), 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}
