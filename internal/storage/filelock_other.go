//go:build !unix

package storage

import "time"

// FileLock is a no-op where flock(2) is unavailable; FileCache still
// serializes writers within one process.
type FileLock struct{ path string }

func NewFileLock(path string) *FileLock { return &FileLock{path: path + ".lock"} }

func (l *FileLock) Lock(time.Duration) error { return nil }
func (l *FileLock) Unlock() error            { return nil }
