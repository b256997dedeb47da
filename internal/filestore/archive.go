package filestore

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
)

// ExpandArchive extracts a zip archive into intoRel and returns the scratch
// directory plus the relative paths of the extracted files that pass the
// valid-SQL filter. Archives over the configured entry cap or with a corrupt
// central directory are refused before any extraction.
func (s *Service) ExpandArchive(archiveRel, intoRel string) (string, []string, error) {
	archivePath, err := s.abs(archiveRel)
	if err != nil {
		return "", nil, err
	}
	intoPath, err := s.abs(intoRel)
	if err != nil {
		return "", nil, err
	}

	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		return "", nil, apierr.Newf(apierr.KindFileNotFound, "ARCHIVE_NOT_FOUND", "archive %s not found", archiveRel)
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", nil, apierr.New(apierr.KindArchiveCorrupt, "ARCHIVE_OPEN", err)
	}
	defer reader.Close()

	entries := 0
	for _, f := range reader.File {
		if !f.FileInfo().IsDir() {
			entries++
		}
	}
	if s.maxZipFiles > 0 && entries > s.maxZipFiles {
		return "", nil, apierr.Newf(apierr.KindArchiveLimit, "ARCHIVE_LIMIT",
			"archive %s has %d entries, limit %d", archiveRel, entries, s.maxZipFiles)
	}

	if err := os.MkdirAll(intoPath, 0o755); err != nil {
		return "", nil, apierr.New(apierr.KindFileAccess, "DIR_CREATE", err)
	}

	var sqlFiles []string
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel, err := s.extractEntry(f, intoRel, intoPath)
		if err != nil {
			return "", nil, err
		}
		if rel == "" {
			continue
		}
		if strings.EqualFold(filepath.Ext(rel), ".sql") && s.IsValidSQL(rel) {
			sqlFiles = append(sqlFiles, rel)
		}
	}
	return intoRel, sqlFiles, nil
}

// extractEntry writes one zip entry under intoPath. Entries that would land
// outside the extraction directory are skipped.
func (s *Service) extractEntry(f *zip.File, intoRel, intoPath string) (string, error) {
	name := filepath.Clean(filepath.FromSlash(f.Name))
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		s.log.Warn("Skipping archive entry outside extraction dir", "entry", f.Name)
		return "", nil
	}
	dst := filepath.Join(intoPath, name)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", apierr.New(apierr.KindFileAccess, "DIR_CREATE", err)
	}
	in, err := f.Open()
	if err != nil {
		return "", apierr.New(apierr.KindArchiveCorrupt, "ARCHIVE_ENTRY", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", apierr.New(apierr.KindFileAccess, "FILE_CREATE", err)
	}
	defer out.Close()

	limit := int64(-1)
	if s.maxFileBytes > 0 {
		limit = s.maxFileBytes + 1
	}
	var src io.Reader = in
	if limit > 0 {
		src = io.LimitReader(in, limit)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		return "", apierr.New(apierr.KindArchiveCorrupt, "ARCHIVE_ENTRY", err)
	}
	if s.maxFileBytes > 0 && n > s.maxFileBytes {
		return "", apierr.Newf(apierr.KindArchiveLimit, "ENTRY_TOO_LARGE",
			"archive entry %s exceeds %d bytes", f.Name, s.maxFileBytes)
	}
	return filepath.ToSlash(filepath.Join(intoRel, name)), nil
}
