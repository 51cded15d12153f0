package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"syscall"
)

// segment is an open hot segment file. Appends go through a single
// write syscall under an exclusive advisory lock; a crash can at worst
// leave one partial trailing line, which openSegment truncates away
// before any new append, so committed records are never corrupted.
type segment struct {
	path   string
	file   *os.File
	lines  int
	size   int64
	digest hash.Hash
}

// openSegment opens (creating if needed) the hot segment at path,
// acquires the advisory lock, and recovers from a torn trailing write.
func openSegment(path string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock segment %s: %w", path, err)
	}

	seg := &segment{path: path, file: f, digest: sha256.New()}
	if err := seg.recover(); err != nil {
		seg.Close()
		return nil, err
	}
	return seg, nil
}

// recover truncates a partial trailing line left by an interrupted
// append, then rebuilds the line count and running checksum from the
// committed content.
func (s *segment) recover() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read segment %s: %w", s.path, err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		cut := bytes.LastIndexByte(data, '\n') + 1
		if err := s.file.Truncate(int64(cut)); err != nil {
			return fmt.Errorf("truncate torn segment %s: %w", s.path, err)
		}
		data = data[:cut]
	}
	s.size = int64(len(data))
	s.lines = bytes.Count(data, []byte{'\n'})
	s.digest.Write(data)
	if _, err := s.file.Seek(s.size, 0); err != nil {
		return fmt.Errorf("seek segment %s: %w", s.path, err)
	}
	return nil
}

// append writes one encoded line and syncs it to disk. The returned
// offset and line index identify the committed record.
func (s *segment) append(line []byte) (offset int64, index int, err error) {
	offset = s.size
	index = s.lines
	if _, err := s.file.Write(line); err != nil {
		return 0, 0, fmt.Errorf("append to %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, 0, fmt.Errorf("sync %s: %w", s.path, err)
	}
	s.size += int64(len(line))
	s.lines++
	s.digest.Write(line)
	return offset, index, nil
}

// checksum returns the hex sha256 over all committed segment bytes.
func (s *segment) checksum() string {
	return hex.EncodeToString(s.digest.Sum(nil))
}

// Close releases the advisory lock and the file handle.
func (s *segment) Close() error {
	if s.file == nil {
		return nil
	}
	_ = syscall.Flock(int(s.file.Fd()), syscall.LOCK_UN)
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close segment %s: %w", s.path, err)
	}
	return nil
}
