// Package transfer mirrors directory trees between the local filesystem and a
// remote SFTP filesystem. Traversal is depth-first and strictly sequential.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"unicode/utf8"

	"github.com/pkg/sftp"

	apperrors "sftp-deploy/internal/errors"
)

const dirPerm = 0o755

// RemoteFS is the subset of an SFTP client the engine needs
type RemoteFS interface {
	Mkdir(p string) error
	Stat(p string) (os.FileInfo, error)
	ReadDir(p string) ([]os.FileInfo, error)
	Create(p string) (io.WriteCloser, error)
	Open(p string) (io.ReadCloser, error)
}

// FileObserver is notified once after every file has been written
type FileObserver interface {
	FileTransferred(relPath string, size int64)
}

// Stats summarises a tree transfer
type Stats struct {
	Files int   `json:"files" yaml:"files"`
	Dirs  int   `json:"dirs" yaml:"dirs"`
	Bytes int64 `json:"bytes" yaml:"bytes"`
}

// CountFiles returns the number of regular files below root
func CountFiles(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, apperrors.NewPathError(fmt.Sprintf("failed to read local directory %s", root), err)
	}

	count := 0
	for _, entry := range entries {
		full := filepath.Join(root, entry.Name())
		kind, err := localKind(full, entry)
		if err != nil {
			return 0, apperrors.NewPathError(fmt.Sprintf("failed to stat %s", full), err)
		}
		switch kind {
		case kindDir:
			n, err := CountFiles(full)
			if err != nil {
				return 0, err
			}
			count += n
		case kindFile:
			count++
		}
	}
	return count, nil
}

type entryKind int

const (
	kindOther entryKind = iota
	kindDir
	kindFile
)

// localKind follows symlinks so that counting and uploading agree
func localKind(full string, entry fs.DirEntry) (entryKind, error) {
	mode := entry.Type()
	if mode&fs.ModeSymlink != 0 {
		info, err := os.Stat(full)
		if err != nil {
			return kindOther, err
		}
		mode = info.Mode()
	}
	switch {
	case mode.IsDir():
		return kindDir, nil
	case mode.IsRegular():
		return kindFile, nil
	}
	return kindOther, nil
}

// Engine copies trees over a RemoteFS
type Engine struct {
	remote RemoteFS
}

// NewEngine creates an engine bound to a remote filesystem
func NewEngine(remote RemoteFS) *Engine {
	return &Engine{remote: remote}
}

// UploadTree mirrors localRoot into remoteRoot
func (e *Engine) UploadTree(localRoot, remoteRoot string, observer FileObserver) (Stats, error) {
	var stats Stats
	if err := e.mkdirRemote(remoteRoot); err != nil {
		return stats, err
	}
	err := e.uploadDir(localRoot, remoteRoot, "", observer, &stats)
	return stats, err
}

func (e *Engine) uploadDir(localDir, remoteDir, rel string, observer FileObserver, stats *Stats) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return apperrors.NewTransferError(fmt.Sprintf("failed to read local directory %s", localDir), err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !utf8.ValidString(name) {
			return apperrors.NewPathError(fmt.Sprintf("file name in %s is not valid UTF-8: %q", localDir, name), nil)
		}

		localPath := filepath.Join(localDir, name)
		remotePath := path.Join(remoteDir, name)
		relPath := path.Join(rel, name)

		kind, err := localKind(localPath, entry)
		if err != nil {
			return apperrors.NewTransferError(fmt.Sprintf("failed to stat local entry %s", localPath), err)
		}
		if kind == kindOther {
			continue
		}

		if kind == kindDir {
			if err := e.mkdirRemote(remotePath); err != nil {
				return err
			}
			stats.Dirs++
			if err := e.uploadDir(localPath, remotePath, relPath, observer, stats); err != nil {
				return err
			}
			continue
		}

		n, err := e.putFile(localPath, remotePath)
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
		if observer != nil {
			observer.FileTransferred(relPath, n)
		}
	}
	return nil
}

// UploadFile copies a single local file to remotePath
func (e *Engine) UploadFile(localPath, remotePath string) (int64, error) {
	return e.putFile(localPath, remotePath)
}

func (e *Engine) putFile(localPath, remotePath string) (int64, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return 0, apperrors.NewTransferError(fmt.Sprintf("failed to read local file %s", localPath), err)
	}

	dst, err := e.remote.Create(remotePath)
	if err != nil {
		return 0, apperrors.NewTransferError(fmt.Sprintf("failed to create remote file %s", remotePath), err)
	}

	n, err := dst.Write(content)
	if err != nil {
		dst.Close()
		return 0, apperrors.NewTransferError(fmt.Sprintf("failed to write remote file %s", remotePath), err)
	}
	if err := dst.Close(); err != nil {
		return 0, apperrors.NewTransferError(fmt.Sprintf("failed to close remote file %s", remotePath), err)
	}
	return int64(n), nil
}

// EnsureDir creates a single remote directory unless it already exists
func (e *Engine) EnsureDir(remotePath string) error {
	return e.mkdirRemote(remotePath)
}

// mkdirRemote creates p, tolerating a directory that already exists
func (e *Engine) mkdirRemote(p string) error {
	err := e.remote.Mkdir(p)
	if err == nil {
		return nil
	}
	if info, statErr := e.remote.Stat(p); statErr == nil && info.IsDir() {
		return nil
	}
	return apperrors.NewTransferError(fmt.Sprintf("failed to create remote directory %s", p), err)
}

// DownloadTree mirrors remoteRoot into localRoot. A missing remoteRoot is not
// an error: there is simply nothing to copy, and found reports false.
func (e *Engine) DownloadTree(remoteRoot, localRoot string) (stats Stats, found bool, err error) {
	info, err := e.remote.Stat(remoteRoot)
	if err != nil {
		if IsNotExist(err) {
			return stats, false, nil
		}
		return stats, false, apperrors.NewTransferError(fmt.Sprintf("failed to stat remote directory %s", remoteRoot), err)
	}
	if !info.IsDir() {
		return stats, false, apperrors.NewTransferError(fmt.Sprintf("remote path %s is not a directory", remoteRoot), nil)
	}

	err = e.downloadDir(remoteRoot, localRoot, &stats)
	return stats, true, err
}

func (e *Engine) downloadDir(remoteDir, localDir string, stats *Stats) error {
	if err := os.MkdirAll(localDir, dirPerm); err != nil {
		return apperrors.NewTransferError(fmt.Sprintf("failed to create local directory %s", localDir), err)
	}

	entries, err := e.remote.ReadDir(remoteDir)
	if err != nil {
		return apperrors.NewTransferError(fmt.Sprintf("failed to read remote directory %s", remoteDir), err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		if !utf8.ValidString(name) {
			return apperrors.NewPathError(fmt.Sprintf("remote file name in %s is not valid UTF-8: %q", remoteDir, name), nil)
		}

		remotePath := path.Join(remoteDir, name)
		localPath := filepath.Join(localDir, name)

		info := entry
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := e.remote.Stat(remotePath)
			if err != nil {
				return apperrors.NewTransferError(fmt.Sprintf("failed to resolve remote link %s", remotePath), err)
			}
			info = resolved
		}

		if info.IsDir() {
			stats.Dirs++
			if err := e.downloadDir(remotePath, localPath, stats); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		n, err := e.getFile(remotePath, localPath)
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
	}
	return nil
}

func (e *Engine) getFile(remotePath, localPath string) (int64, error) {
	src, err := e.remote.Open(remotePath)
	if err != nil {
		return 0, apperrors.NewTransferError(fmt.Sprintf("failed to open remote file %s", remotePath), err)
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return 0, apperrors.NewTransferError(fmt.Sprintf("failed to read remote file %s", remotePath), err)
	}

	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return 0, apperrors.NewTransferError(fmt.Sprintf("failed to write backup file %s", localPath), err)
	}
	return int64(len(content)), nil
}

// IsNotExist reports whether err means the remote path does not exist
func IsNotExist(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.FxCode() == sftp.ErrSSHFxNoSuchFile
	}
	return false
}
