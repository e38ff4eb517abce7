// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteError reports which step of an atomic write failed and for which
// file. Config saves and export files surface it to the CLI unchanged.
type WriteError struct {
	Path string
	Op   string // mkdir, create, write, sync, chmod, rename
	Err  error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the filesystem error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// AtomicWriteFile replaces path with data. The bytes go to a hidden temp
// file next to the target, are fsynced, then renamed over it, so readers see
// either the old file or the complete new one. Missing parent directories
// are created with 0700 when perm has no group or other bits, else 0755.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return &WriteError{Path: path, Op: "resolve", Err: err}
	}

	dir := filepath.Dir(absPath)
	dirPerm := os.FileMode(0755)
	if perm&0077 == 0 {
		dirPerm = 0700
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &WriteError{Path: absPath, Op: "mkdir", Err: err}
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(absPath)+".tmp-")
	if err != nil {
		return &WriteError{Path: absPath, Op: "create", Err: err}
	}
	tempPath := f.Name()

	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return &WriteError{Path: absPath, Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &WriteError{Path: absPath, Op: "sync", Err: err}
	}
	// Windows refuses to rename an open file.
	if err := f.Close(); err != nil {
		return &WriteError{Path: absPath, Op: "close", Err: err}
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return &WriteError{Path: absPath, Op: "chmod", Err: err}
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return &WriteError{Path: absPath, Op: "rename", Err: err}
	}

	committed = true
	return nil
}
