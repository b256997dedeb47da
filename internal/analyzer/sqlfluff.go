package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zorth44/sqlfluff-service/internal/apierr"
	"github.com/zorth44/sqlfluff-service/internal/config"
	"github.com/zorth44/sqlfluff-service/internal/logger"
)

// knownDialects mirrors the dialects the linter ships with. Requests naming
// anything else fail fast instead of spawning a doomed process.
var knownDialects = map[string]bool{
	"ansi": true, "athena": true, "bigquery": true, "clickhouse": true,
	"databricks": true, "db2": true, "duckdb": true, "exasol": true,
	"hive": true, "mysql": true, "oracle": true, "postgres": true,
	"redshift": true, "snowflake": true, "soql": true, "sparksql": true,
	"sqlite": true, "teradata": true, "trino": true, "tsql": true,
}

// SQLFluffService shells out to the sqlfluff CLI, one process per request,
// and normalizes its JSON report. Per-dialect argument sets are built once
// and cached; the process-per-call model makes Analyze safe to run
// concurrently.
type SQLFluffService struct {
	bin string
	log *logger.Logger

	mu          sync.Mutex
	dialectArgs map[string][]string

	versionOnce sync.Once
	version     string
}

func NewSQLFluffService(cfg config.Config, log *logger.Logger) *SQLFluffService {
	return &SQLFluffService{
		bin:         cfg.SQLFluffBin,
		log:         log.With("service", "SQLFluffService"),
		dialectArgs: map[string][]string{},
	}
}

// argsForDialect validates the dialect and returns the cached base argument
// set for it.
func (s *SQLFluffService) argsForDialect(dialect string) ([]string, error) {
	d := strings.ToLower(strings.TrimSpace(dialect))
	if !knownDialects[d] {
		return nil, apierr.Newf(apierr.KindConfig, "UNKNOWN_DIALECT", "unknown dialect %q", dialect)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if args, ok := s.dialectArgs[d]; ok {
		return args, nil
	}
	args := []string{"lint", "--format", "json", "--dialect", d, "--nocolor"}
	s.dialectArgs[d] = args
	return args, nil
}

func (s *SQLFluffService) analyzerVersion() string {
	s.versionOnce.Do(func() {
		out, err := exec.Command(s.bin, "--version").Output()
		if err != nil {
			s.log.Warn("Could not determine analyzer version", "error", err)
			s.version = "unknown"
			return
		}
		s.version = strings.TrimSpace(string(out))
	})
	return s.version
}

func (s *SQLFluffService) Analyze(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	args, err := s.argsForDialect(req.Dialect)
	if err != nil {
		return nil, err
	}
	args = append([]string{}, args...)
	if len(req.Rules) > 0 {
		args = append(args, "--rules", strings.Join(req.Rules, ","))
	}
	if len(req.ExcludeRules) > 0 {
		args = append(args, "--exclude-rules", strings.Join(req.ExcludeRules, ","))
	}
	if len(req.ConfigOverrides) > 0 {
		s.log.Debug("Ignoring unsupported config overrides", "keys", overrideKeys(req.ConfigOverrides))
	}

	tmpDir, err := os.MkdirTemp("", "sqlfluff-*")
	if err != nil {
		return nil, apierr.New(apierr.KindAnalyzer, "ANALYZER_TMP", err)
	}
	defer os.RemoveAll(tmpDir)

	name := filepath.Base(req.FileName)
	if name == "" || name == "." {
		name = "input.sql"
	}
	tmpFile := filepath.Join(tmpDir, name)
	if err := os.WriteFile(tmpFile, []byte(req.SQLText), 0o644); err != nil {
		return nil, apierr.New(apierr.KindAnalyzer, "ANALYZER_TMP", err)
	}
	args = append(args, tmpFile)

	cmd := exec.CommandContext(ctx, s.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, apierr.New(apierr.KindTimeout, "ANALYZER_TIMEOUT", ctx.Err())
	}
	if runErr != nil {
		// Exit code 1 means violations were found; the report is still valid.
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok || exitErr.ExitCode() > 1 {
			return nil, apierr.Newf(apierr.KindAnalyzer, "ANALYZER_EXEC",
				"analyzer failed: %v: %s", runErr, strings.TrimSpace(stderr.String()))
		}
	}

	result, err := normalizeReport(stdout.Bytes(), req)
	if err != nil {
		return nil, err
	}
	result.AnalysisMetadata.AnalyzerVersion = s.analyzerVersion()
	result.AnalysisMetadata.AnalysisTime = time.Since(start).Seconds()
	return result, nil
}

func overrideKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

type cliViolation struct {
	LineNo       int    `json:"line_no"`
	LinePos      int    `json:"line_pos"`
	StartLineNo  int    `json:"start_line_no"`
	StartLinePos int    `json:"start_line_pos"`
	Code         string `json:"code"`
	Description  string `json:"description"`
	Name         string `json:"name"`
	Fixable      bool   `json:"fixable"`
}

type cliFileReport struct {
	Filepath   string         `json:"filepath"`
	Violations []cliViolation `json:"violations"`
}

// normalizeReport converts the CLI's per-file JSON report into the
// normalized result document.
func normalizeReport(report []byte, req Request) (*Result, error) {
	var files []cliFileReport
	trimmed := bytes.TrimSpace(report)
	if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &files); err != nil {
			return nil, apierr.Newf(apierr.KindAnalyzer, "ANALYZER_REPORT",
				"unparseable analyzer report: %v", err)
		}
	}

	violations := []Violation{}
	for _, f := range files {
		for _, v := range f.Violations {
			lineNo, linePos := v.LineNo, v.LinePos
			if lineNo == 0 {
				lineNo = v.StartLineNo
			}
			if linePos == 0 {
				linePos = v.StartLinePos
			}
			rule := v.Name
			if rule == "" {
				rule = v.Code
			}
			violations = append(violations, Violation{
				LineNo:      lineNo,
				LinePos:     linePos,
				Code:        v.Code,
				Description: v.Description,
				Rule:        rule,
				Severity:    SeverityFor(v.Code),
				Fixable:     v.Fixable,
			})
		}
	}

	critical := 0
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			critical++
		}
	}
	// A file passes only when it is completely clean; warnings count too.
	passed := len(violations) == 0
	rate := 0
	if passed {
		rate = 100
	}

	lineCount := strings.Count(req.SQLText, "\n")
	if req.SQLText != "" && !strings.HasSuffix(req.SQLText, "\n") {
		lineCount++
	}

	rulesApplied := req.Rules
	if rulesApplied == nil {
		rulesApplied = []string{}
	}

	return &Result{
		Violations: violations,
		Summary: Summary{
			TotalViolations:    len(violations),
			CriticalViolations: critical,
			WarningViolations:  len(violations) - critical,
			FilePassed:         passed,
			SuccessRate:        rate,
		},
		FileInfo: FileInfo{
			FileName:       req.FileName,
			FileSize:       int64(len(req.SQLText)),
			LineCount:      lineCount,
			CharacterCount: len([]rune(req.SQLText)),
		},
		AnalysisMetadata: Metadata{
			Dialect:      req.Dialect,
			RulesApplied: rulesApplied,
		},
	}, nil
}
