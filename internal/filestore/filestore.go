package filestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// sqlKeywords are the statement openers is_valid_sql looks for in the first
// KiB of a file.
var sqlKeywords = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE",
	"DROP", "ALTER", "SHOW", "DESCRIBE", "USE",
}

// Service is the file-store adapter. Every path it accepts is relative to
// the configured shared root; absolute paths and traversal outside the root
// are rejected.
type Service struct {
	root         string
	maxFileBytes int64
	maxZipFiles  int
	log          *logger.Logger
}

func New(cfg config.Config, log *logger.Logger) (*Service, error) {
	if cfg.SharedRootPath == "" {
		return nil, apierr.Newf(apierr.KindConfig, "SHARED_ROOT_REQUIRED", "shared root path is required")
	}
	if err := os.MkdirAll(cfg.SharedRootPath, 0o755); err != nil {
		return nil, apierr.New(apierr.KindFileAccess, "SHARED_ROOT_CREATE", err)
	}
	return &Service{
		root:         cfg.SharedRootPath,
		maxFileBytes: cfg.MaxFileBytes,
		maxZipFiles:  cfg.MaxZipFiles,
		log:          log.With("service", "FileStore"),
	}, nil
}

// abs resolves a relative store path, rejecting escapes from the root.
func (s *Service) abs(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", apierr.Newf(apierr.KindValidation, "PATH_ABSOLUTE", "path %q must be relative", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apierr.Newf(apierr.KindValidation, "PATH_ESCAPE", "path %q escapes the store root", rel)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Service) Exists(rel string) bool {
	p, err := s.abs(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

func (s *Service) FileSize(rel string) (int64, error) {
	p, err := s.abs(rel)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return 0, apierr.Newf(apierr.KindFileNotFound, "FILE_NOT_FOUND", "file %s not found", rel)
	}
	if err != nil {
		return 0, apierr.New(apierr.KindFileAccess, "FILE_STAT", err)
	}
	return info.Size(), nil
}

// ReadText reads a whole file and decodes it through the encoding ladder:
// UTF-8 (with or without BOM), then GBK, then Windows-1252, then Latin-1.
// Files containing null bytes are rejected as binary.
func (s *Service) ReadText(rel string) (string, error) {
	raw, err := s.readAll(rel)
	if err != nil {
		return "", err
	}
	return decodeText(rel, raw)
}

func (s *Service) readAll(rel string) ([]byte, error) {
	p, err := s.abs(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, apierr.Newf(apierr.KindFileNotFound, "FILE_NOT_FOUND", "file %s not found", rel)
	}
	if err != nil {
		return nil, apierr.New(apierr.KindFileAccess, "FILE_STAT", err)
	}
	if s.maxFileBytes > 0 && info.Size() > s.maxFileBytes {
		return nil, apierr.Newf(apierr.KindValidation, "FILE_TOO_LARGE",
			"file %s is %d bytes, limit %d", rel, info.Size(), s.maxFileBytes)
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		if os.IsPermission(err) {
			return nil, apierr.New(apierr.KindFileAccess, "PERMISSION_DENIED", err)
		}
		return nil, apierr.New(apierr.KindFileAccess, "FILE_READ", err)
	}
	return raw, nil
}

func decodeText(rel string, raw []byte) (string, error) {
	if bytes.IndexByte(raw, 0) >= 0 {
		return "", apierr.Newf(apierr.KindEncoding, "BINARY_FILE", "file %s contains null bytes", rel)
	}
	if bytes.HasPrefix(raw, utf8BOM) {
		raw = raw[len(utf8BOM):]
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	for _, enc := range []encoding.Encoding{
		simplifiedchinese.GBK,
		charmap.Windows1252,
		charmap.ISO8859_1,
	} {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err == nil {
			return string(decoded), nil
		}
	}
	// Last resort: keep the valid runs, replace the rest.
	return strings.ToValidUTF8(string(raw), "�"), nil
}

// WriteText writes content as UTF-8, creating parent directories.
func (s *Service) WriteText(rel, content string) error {
	return s.writeBytes(rel, []byte(content))
}

// WriteJSON marshals value with indentation and writes it.
func (s *Service) WriteJSON(rel string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return apierr.New(apierr.KindFileAccess, "JSON_ENCODE", err)
	}
	return s.writeBytes(rel, data)
}

func (s *Service) writeBytes(rel string, data []byte) error {
	p, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return apierr.New(apierr.KindFileAccess, "DIR_CREATE", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return apierr.New(apierr.KindFileAccess, "FILE_WRITE", err)
	}
	return nil
}

func (s *Service) Copy(srcRel, dstRel string) error {
	src, err := s.abs(srcRel)
	if err != nil {
		return err
	}
	dst, err := s.abs(dstRel)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return apierr.Newf(apierr.KindFileNotFound, "FILE_NOT_FOUND", "file %s not found", srcRel)
	}
	if err != nil {
		return apierr.New(apierr.KindFileAccess, "FILE_OPEN", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apierr.New(apierr.KindFileAccess, "DIR_CREATE", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return apierr.New(apierr.KindFileAccess, "FILE_CREATE", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apierr.New(apierr.KindFileAccess, "FILE_COPY", err)
	}
	return nil
}

func (s *Service) Delete(rel string) error {
	p, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return apierr.New(apierr.KindFileAccess, "FILE_DELETE", err)
	}
	return nil
}

// RemoveAll deletes a directory tree, used to clean up extraction scratch
// once every task of a job is terminal.
func (s *Service) RemoveAll(rel string) error {
	p, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return apierr.New(apierr.KindFileAccess, "DIR_DELETE", err)
	}
	return nil
}

func (s *Service) Mkdir(rel string) error {
	p, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return apierr.New(apierr.KindFileAccess, "DIR_CREATE", err)
	}
	return nil
}

// IsValidSQL applies the cheap pre-analysis filter: rejects hidden and
// resource-fork names, empty files, binary content, and files whose first
// KiB carries no SQL statement keyword.
func (s *Service) IsValidSQL(rel string) bool {
	base := filepath.Base(rel)
	if base == "" || base == "." ||
		strings.HasPrefix(base, ".") ||
		strings.HasPrefix(base, "._") ||
		strings.HasPrefix(base, "~") {
		return false
	}
	p, err := s.abs(rel)
	if err != nil {
		return false
	}
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return false
	}
	head = head[:n]
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	text, err := decodeText(rel, head)
	if err != nil {
		return false
	}
	upper := strings.ToUpper(text)
	for _, kw := range sqlKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

func resultBaseName(fileName string) string {
	return fmt.Sprintf("%s_result.json", fileName)
}

// ResultPath returns the canonical relative location of a per-file analysis
// artifact.
func ResultPath(jobID, fileName string) string {
	return filepath.ToSlash(filepath.Join("results", jobID, resultBaseName(fileName)))
}

// SingleSourcePath returns the canonical location of a single-submission
// source file.
func SingleSourcePath(jobID string) string {
	return filepath.ToSlash(filepath.Join("jobs", jobID, "sources", fmt.Sprintf("single_sql_%s.sql", jobID)))
}

// JobSourcePath returns the canonical location an archive-extracted file is
// copied to.
func JobSourcePath(jobID, baseName string) string {
	return filepath.ToSlash(filepath.Join("jobs", jobID, baseName))
}

// ExtractDir returns the scratch directory archives are expanded into.
func ExtractDir(jobID string) string {
	return filepath.ToSlash(filepath.Join("jobs", jobID, "extracted"))
}
