package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "sftp-deploy/internal/errors"
)

// ArchiveStats describes an exported or imported archive
type ArchiveStats struct {
	Path        string          `json:"path" yaml:"path"`
	Compression CompressionType `json:"compression" yaml:"compression"`
	Files       int             `json:"files" yaml:"files"`
	Bytes       int64           `json:"bytes" yaml:"bytes"`
	Archived    int64           `json:"archived_bytes" yaml:"archived_bytes"`
	Duration    time.Duration   `json:"duration" yaml:"duration"`
}

// Ratio returns archived size over content size
func (a ArchiveStats) Ratio() float64 {
	if a.Bytes == 0 {
		return 0
	}
	return float64(a.Archived) / float64(a.Bytes)
}

// DefaultArchiveName builds <project>-<environment>-<timestamp><ext>
func DefaultArchiveName(project, environment string, c CompressionType, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s%s", project, environment, now.UTC().Format("20060102T150405Z"), c.Extension())
}

// Export writes the snapshot as a tar archive to dest
func (s *Store) Export(project, environment, dest string, c CompressionType) (*ArchiveStats, error) {
	start := time.Now()

	dir, err := s.Path(project, environment)
	if err != nil {
		return nil, err
	}
	if !s.Exists(project, environment) {
		return nil, apperrors.NewBackupMissingError(project, environment)
	}

	out, err := os.Create(dest)
	if err != nil {
		return nil, apperrors.NewPathError(fmt.Sprintf("failed to create archive %s", dest), err)
	}

	stats := &ArchiveStats{Path: dest, Compression: c}
	if err := writeArchive(out, dir, c, stats); err != nil {
		out.Close()
		os.Remove(dest)
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, apperrors.NewTransferError(fmt.Sprintf("failed to close archive %s", dest), err)
	}

	if info, err := os.Stat(dest); err == nil {
		stats.Archived = info.Size()
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

func writeArchive(w io.Writer, root string, c CompressionType, stats *ArchiveStats) error {
	cw, err := NewCompressWriter(w, c)
	if err != nil {
		return apperrors.NewConfigError("invalid archive compression", err)
	}
	tw := tar.NewWriter(cw)

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, f)
		f.Close()
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
		return nil
	})
	if walkErr != nil {
		return apperrors.NewTransferError("failed to write backup archive", walkErr)
	}

	if err := tw.Close(); err != nil {
		return apperrors.NewTransferError("failed to finish tar stream", err)
	}
	if err := cw.Close(); err != nil {
		return apperrors.NewTransferError("failed to flush archive compression", err)
	}
	return nil
}

// Import restores an archive produced by Export into the snapshot slot,
// replacing the current snapshot only if extraction succeeds
func (s *Store) Import(project, environment, src string, c CompressionType) (*ArchiveStats, error) {
	start := time.Now()

	in, err := os.Open(src)
	if err != nil {
		return nil, apperrors.NewPathError(fmt.Sprintf("failed to open archive %s", src), err)
	}
	defer in.Close()

	stats := &ArchiveStats{Path: src, Compression: c}
	if info, err := in.Stat(); err == nil {
		stats.Archived = info.Size()
	}

	_, _, err = s.Replace(project, environment, func(staging string) (bool, error) {
		if err := extractArchive(in, staging, c, stats); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func extractArchive(r io.Reader, dest string, c CompressionType, stats *ArchiveStats) error {
	dr, err := NewDecompressReader(r, c)
	if err != nil {
		return apperrors.NewTransferError("failed to open archive", err)
	}
	defer dr.Close()

	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apperrors.NewTransferError("failed to read archive entry", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return apperrors.NewTransferError(fmt.Sprintf("failed to create %s", target), err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
				return apperrors.NewTransferError(fmt.Sprintf("failed to create %s", filepath.Dir(target)), err)
			}
			n, err := writeFile(target, tr)
			if err != nil {
				return apperrors.NewTransferError(fmt.Sprintf("failed to extract %s", hdr.Name), err)
			}
			stats.Files++
			stats.Bytes += n
		}
	}
}

func writeFile(target string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// safeJoin rejects archive entries that would land outside dest
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(filepath.Separator)) {
		return "", apperrors.NewPathError(fmt.Sprintf("archive entry %q escapes the backup directory", name), nil)
	}
	return target, nil
}
