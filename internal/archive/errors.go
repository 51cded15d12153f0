package archive

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord rejects malformed input at the append boundary. The
// caller owns the fix; the archive never retries these.
var ErrInvalidRecord = errors.New("invalid record")

// ErrArchiveIntegrity marks a checksum or record-count mismatch found
// during compression or verification. The operation halts and the hot
// copy is left untouched.
var ErrArchiveIntegrity = errors.New("archive integrity violation")

// ErrArchiveUnreadable marks a segment the manifest claims but whose
// bytes cannot be read back (missing file, failed fetch, bad gzip
// stream). Fatal for the operation; the archive needs an operator.
var ErrArchiveUnreadable = errors.New("archive segment unreadable")

// ErrSegmentSealed is returned when an append targets a day that has
// already been sealed.
var ErrSegmentSealed = errors.New("segment sealed")

// ErrSegmentNotFound is returned when an operation names a (source, day)
// the manifest does not know about.
var ErrSegmentNotFound = errors.New("segment not found")

// IntegrityError carries the detail of an ErrArchiveIntegrity finding.
type IntegrityError struct {
	Source      string
	Day         string
	Path        string
	WantRecords int
	GotRecords  int
	Reason      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("archive integrity violation: %s/%s (%s): %s (manifest=%d, actual=%d)",
		e.Source, e.Day, e.Path, e.Reason, e.WantRecords, e.GotRecords)
}

// Unwrap lets callers match with errors.Is(err, ErrArchiveIntegrity).
func (e *IntegrityError) Unwrap() error { return ErrArchiveIntegrity }
