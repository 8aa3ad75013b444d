package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Sandbox is an isolated on-disk data directory for tests that exercise a
// core's persistence layer (DID store, ledger WAL, reputation checkpoint)
// without sharing state between cases.
type Sandbox struct {
	Root string
}

// NewSandbox creates a Sandbox rooted at a fresh temporary directory.
func NewSandbox() (*Sandbox, error) {
	dir, err := os.MkdirTemp("", "icn_sandbox")
	if err != nil {
		return nil, err
	}
	return &Sandbox{Root: dir}, nil
}

// Path returns the absolute path for a file within the sandbox.
func (s *Sandbox) Path(name string) string {
	return filepath.Join(s.Root, name)
}

// Dir creates (if needed) and returns a subdirectory of the sandbox,
// matching the per-core data-dir layout a node uses on disk.
func (s *Sandbox) Dir(name string) (string, error) {
	p := filepath.Join(s.Root, name)
	if err := os.MkdirAll(p, 0o750); err != nil {
		return "", err
	}
	return p, nil
}

// WriteFile writes data to the named file inside the sandbox.
func (s *Sandbox) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(s.Path(name), data, perm)
}

// ReadFile reads and returns data from the named file inside the sandbox.
func (s *Sandbox) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(s.Path(name))
}

// Cleanup removes the sandbox root and everything under it.
func (s *Sandbox) Cleanup() error {
	return os.RemoveAll(s.Root)
}
