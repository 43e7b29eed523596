package fs

import (
	"os"
	"path/filepath"

	"go.uber.org/fx"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// BridgeFS will wrap the filesystem operations used by rabridge.
type BridgeFS interface {
	DirExists(path string) (bool, error)
	FileExists(path string) (bool, error)
	ReadFile(name string) ([]byte, error)
	Abs(path string) (string, error)
	IsAbs(path string) bool
}

type fsImpl struct{}

// New creates a new BridgeFS.
func New() BridgeFS {
	return fsImpl{}
}

// DirExists checks if a directory exists at the given path.
func (fsImpl) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// FileExists checks if a regular file exists at the given path.
func (fsImpl) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// ReadFile reads the named file in full.
func (fsImpl) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// Abs returns an absolute representation of path.
func (fsImpl) Abs(path string) (string, error) {
	return filepath.Abs(path)
}

// IsAbs reports whether the path is absolute.
func (fsImpl) IsAbs(path string) bool {
	return filepath.IsAbs(path)
}
