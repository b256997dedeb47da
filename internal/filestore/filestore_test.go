package filestore

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/logger"
)

func newStore(t *testing.T) *Service {
	t.Helper()
	s, err := New(config.Config{
		SharedRootPath: t.TempDir(),
		MaxFileBytes:   1 << 20,
		MaxZipFiles:    10,
	}, logger.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func writeRaw(t *testing.T, s *Service, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestReadTextEncodingLadder(t *testing.T) {
	s := newStore(t)

	writeRaw(t, s, "plain.sql", []byte("SELECT 1;"))
	got, err := s.ReadText("plain.sql")
	if err != nil || got != "SELECT 1;" {
		t.Fatalf("utf-8: %q, %v", got, err)
	}

	writeRaw(t, s, "bom.sql", append([]byte{0xEF, 0xBB, 0xBF}, []byte("SELECT 2;")...))
	got, err = s.ReadText("bom.sql")
	if err != nil || got != "SELECT 2;" {
		t.Fatalf("bom: %q, %v", got, err)
	}

	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("SELECT '数据' FROM t;"))
	if err != nil {
		t.Fatalf("gbk encode: %v", err)
	}
	writeRaw(t, s, "gbk.sql", gbk)
	got, err = s.ReadText("gbk.sql")
	if err != nil {
		t.Fatalf("gbk read: %v", err)
	}
	if got != "SELECT '数据' FROM t;" {
		t.Fatalf("gbk decode: %q", got)
	}
}

func TestReadTextRejectsBinary(t *testing.T) {
	s := newStore(t)
	writeRaw(t, s, "bin.sql", []byte{'S', 'E', 0x00, 'L'})
	_, err := s.ReadText("bin.sql")
	if !apierr.IsKind(err, apierr.KindEncoding) {
		t.Fatalf("expected ENCODING, got %v", err)
	}
}

func TestReadTextMissingAndTooLarge(t *testing.T) {
	s := newStore(t)
	_, err := s.ReadText("nope.sql")
	if !apierr.IsKind(err, apierr.KindFileNotFound) {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}

	s.maxFileBytes = 4
	writeRaw(t, s, "big.sql", []byte("SELECT 1;"))
	_, err = s.ReadText("big.sql")
	if !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("expected VALIDATION for oversize, got %v", err)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	s := newStore(t)
	if _, err := s.ReadText("../outside.sql"); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("expected VALIDATION for traversal, got %v", err)
	}
	if _, err := s.ReadText("/etc/passwd"); !apierr.IsKind(err, apierr.KindValidation) {
		t.Fatalf("expected VALIDATION for absolute, got %v", err)
	}
}

func TestIsValidSQL(t *testing.T) {
	s := newStore(t)

	writeRaw(t, s, "good.sql", []byte("-- header\nSELECT * FROM t;"))
	writeRaw(t, s, "lower.sql", []byte("select 1;"))
	writeRaw(t, s, "nokeywords.sql", []byte("hello world"))
	writeRaw(t, s, "empty.sql", nil)
	writeRaw(t, s, ".hidden.sql", []byte("SELECT 1;"))
	writeRaw(t, s, "._fork.sql", []byte("SELECT 1;"))
	writeRaw(t, s, "~backup.sql", []byte("SELECT 1;"))
	writeRaw(t, s, "binary.sql", []byte{0x00, 0x01, 0x02})

	cases := []struct {
		rel  string
		want bool
	}{
		{"good.sql", true},
		{"lower.sql", true},
		{"nokeywords.sql", false},
		{"empty.sql", false},
		{".hidden.sql", false},
		{"._fork.sql", false},
		{"~backup.sql", false},
		{"binary.sql", false},
		{"missing.sql", false},
	}
	for _, c := range cases {
		if got := s.IsValidSQL(c.rel); got != c.want {
			t.Fatalf("IsValidSQL(%q) = %v, want %v", c.rel, got, c.want)
		}
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	s := newStore(t)
	if err := s.WriteJSON("results/job-x/a.sql_result.json", map[string]int{"n": 3}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	got, err := s.ReadText("results/job-x/a.sql_result.json")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got == "" || got[0] != '{' {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestCopyAndDelete(t *testing.T) {
	s := newStore(t)
	writeRaw(t, s, "src/a.sql", []byte("SELECT 1;"))
	if err := s.Copy("src/a.sql", "dst/a.sql"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if !s.Exists("dst/a.sql") {
		t.Fatalf("copy target missing")
	}
	if err := s.Delete("dst/a.sql"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Exists("dst/a.sql") {
		t.Fatalf("delete did not remove file")
	}
	if err := s.Copy("src/missing.sql", "dst/b.sql"); !apierr.IsKind(err, apierr.KindFileNotFound) {
		t.Fatalf("copy missing: %v", err)
	}
}

func buildZip(t *testing.T, s *Service, rel string, files map[string]string) {
	t.Helper()
	p := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()
	w := zip.NewWriter(f)
	for name, content := range files {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip entry: %v", err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
}

func TestExpandArchiveFilters(t *testing.T) {
	s := newStore(t)
	buildZip(t, s, "upload.zip", map[string]string{
		"a.sql":        "SELECT 1;",
		"sub/b.sql":    "INSERT INTO t VALUES (1);",
		"notes.txt":    "SELECT but wrong extension",
		".hidden.sql":  "SELECT 1;",
		"garbage.sql":  "not a statement",
		"sub/deep.SQL": "DROP TABLE t;",
	})

	dir, sqlFiles, err := s.ExpandArchive("upload.zip", "jobs/job-x/extracted")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if dir != "jobs/job-x/extracted" {
		t.Fatalf("dir = %q", dir)
	}
	want := map[string]bool{
		"jobs/job-x/extracted/a.sql":        true,
		"jobs/job-x/extracted/sub/b.sql":    true,
		"jobs/job-x/extracted/sub/deep.SQL": true,
	}
	if len(sqlFiles) != len(want) {
		t.Fatalf("sqlFiles = %v", sqlFiles)
	}
	for _, rel := range sqlFiles {
		if !want[rel] {
			t.Fatalf("unexpected file %q in %v", rel, sqlFiles)
		}
		if !s.Exists(rel) {
			t.Fatalf("extracted file %q missing on disk", rel)
		}
	}
}

func TestExpandArchiveEntryCap(t *testing.T) {
	s := newStore(t)
	s.maxZipFiles = 2
	buildZip(t, s, "big.zip", map[string]string{
		"a.sql": "SELECT 1;",
		"b.sql": "SELECT 2;",
		"c.sql": "SELECT 3;",
	})
	_, _, err := s.ExpandArchive("big.zip", "jobs/job-y/extracted")
	if !apierr.IsKind(err, apierr.KindArchiveLimit) {
		t.Fatalf("expected ARCHIVE_LIMIT, got %v", err)
	}
}

func TestExpandArchiveCorrupt(t *testing.T) {
	s := newStore(t)
	writeRaw(t, s, "broken.zip", []byte("this is not a zip"))
	_, _, err := s.ExpandArchive("broken.zip", "jobs/job-z/extracted")
	if !apierr.IsKind(err, apierr.KindArchiveCorrupt) {
		t.Fatalf("expected ARCHIVE_CORRUPT, got %v", err)
	}

	_, _, err = s.ExpandArchive("absent.zip", "jobs/job-z/extracted")
	if !apierr.IsKind(err, apierr.KindFileNotFound) {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}
}

func TestCanonicalPaths(t *testing.T) {
	if p := SingleSourcePath("job-1"); p != "jobs/job-1/sources/single_sql_job-1.sql" {
		t.Fatalf("single source path = %q", p)
	}
	if p := JobSourcePath("job-1", "a.sql"); p != "jobs/job-1/a.sql" {
		t.Fatalf("job source path = %q", p)
	}
	if p := ResultPath("job-1", "a.sql"); p != "results/job-1/a.sql_result.json" {
		t.Fatalf("result path = %q", p)
	}
	if p := ExtractDir("job-1"); p != "jobs/job-1/extracted" {
		t.Fatalf("extract dir = %q", p)
	}
}
