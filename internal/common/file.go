package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CreateFile creates path for read/write and fails with ErrFileExists if it
// is already there.
func CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), FileMode0755); err != nil {
		return nil, fmt.Errorf("create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, FileMode0644)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return nil, fmt.Errorf("%s: %w", path, ErrFileExists)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%s: %w", path, ErrFileCannotRW)
		}
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := CheckRW(path); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// OpenFile opens an existing file for read/write.
func OpenFile(path string) (*os.File, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrFileNotExists)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := CheckRW(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, FileMode0644)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%s: %w", path, ErrFileCannotRW)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// CheckRW fails with ErrFileCannotRW unless the process may both read and
// write path.
func CheckRW(path string) error {
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("%s: %w", path, ErrFileCannotRW)
	}
	return nil
}

// Force makes previously written file data durable. Metadata is only synced
// when needed to read the data back (fdatasync).
func Force(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return fmt.Errorf("force %s: %w", f.Name(), err)
	}
	return nil
}
