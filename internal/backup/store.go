// Package backup manages the single local snapshot kept per project and
// environment under <appDir>/backups/<project>/<environment>.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "sftp-deploy/internal/errors"
)

const (
	// DirName is the folder under the application directory holding snapshots
	DirName = "backups"

	dirPerm = 0o755
)

// Store resolves and maintains snapshot directories below a root
type Store struct {
	root string
}

// NewStore creates a store rooted at <appDir>/backups
func NewStore(appDir string) *Store {
	return &Store{root: filepath.Join(appDir, DirName)}
}

// Root returns the directory holding every project's snapshots
func (s *Store) Root() string {
	return s.root
}

// Path computes the snapshot directory without touching the filesystem
func (s *Store) Path(project, environment string) (string, error) {
	if err := validateName("project", project); err != nil {
		return "", err
	}
	if err := validateName("environment", environment); err != nil {
		return "", err
	}
	return filepath.Join(s.root, project, environment), nil
}

// LocationFor returns the snapshot directory, creating the full path if absent
func (s *Store) LocationFor(project, environment string) (string, error) {
	dir, err := s.Path(project, environment)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", apperrors.NewTransferError(fmt.Sprintf("failed to create backup directory %s", dir), err)
	}
	return dir, nil
}

// Exists reports whether a snapshot directory is present, without creating it
func (s *Store) Exists(project, environment string) bool {
	dir, err := s.Path(project, environment)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// FillFunc populates a staging directory. found=false means there was
// nothing to capture and the current snapshot must be kept.
type FillFunc func(staging string) (found bool, err error)

// Replace captures a new snapshot through fill. The previous snapshot is only
// swapped out when fill succeeds and reports found; on failure or when nothing
// was found it is left as it was.
func (s *Store) Replace(project, environment string, fill FillFunc) (string, bool, error) {
	dir, err := s.LocationFor(project, environment)
	if err != nil {
		return "", false, err
	}

	staging, err := os.MkdirTemp(filepath.Dir(dir), "."+environment+".staging-")
	if err != nil {
		return "", false, apperrors.NewTransferError("failed to create backup staging directory", err)
	}
	defer os.RemoveAll(staging)

	found, err := fill(staging)
	if err != nil || !found {
		return dir, false, err
	}

	if err := swapDir(dir, staging); err != nil {
		return "", false, apperrors.NewTransferError(fmt.Sprintf("failed to replace backup %s", dir), err)
	}
	return dir, true, nil
}

// swapDir moves staging into place at dir, keeping the old dir until the
// rename succeeds
func swapDir(dir, staging string) error {
	old := staging + ".old"
	if err := os.Rename(dir, old); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(staging, dir); err != nil {
		if restoreErr := os.Rename(old, dir); restoreErr != nil && !errors.Is(restoreErr, os.ErrNotExist) {
			return fmt.Errorf("%w (restore failed: %v)", err, restoreErr)
		}
		return err
	}
	return os.RemoveAll(old)
}

// validateName keeps project and environment to a single path element
func validateName(kind, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return apperrors.NewConfigError(fmt.Sprintf("%s name is required", kind), nil)
	case name == "." || name == "..":
		return apperrors.NewConfigError(fmt.Sprintf("invalid %s name %q", kind, name), nil)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return apperrors.NewConfigError(fmt.Sprintf("%s name %q must not contain path separators", kind, name), nil)
	}
	return nil
}
