package analyzer

import "context"

// Request carries one file's analysis input. Dialect must already be
// resolved; the adapter does not apply defaults.
type Request struct {
	SQLText         string
	FileName        string
	Dialect         string
	Rules           []string
	ExcludeRules    []string
	ConfigOverrides map[string]interface{}
}

// Violation is one normalized linter finding.
type Violation struct {
	LineNo      int    `json:"line_no"`
	LinePos     int    `json:"line_pos"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Rule        string `json:"rule"`
	Severity    string `json:"severity"`
	Fixable     bool   `json:"fixable"`
}

type Summary struct {
	TotalViolations    int  `json:"total_violations"`
	CriticalViolations int  `json:"critical_violations"`
	WarningViolations  int  `json:"warning_violations"`
	FilePassed         bool `json:"file_passed"`
	SuccessRate        int  `json:"success_rate"`
}

type FileInfo struct {
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	LineCount      int    `json:"line_count"`
	CharacterCount int    `json:"character_count"`
	FilePath       string `json:"file_path,omitempty"`
}

type Metadata struct {
	AnalyzerVersion string   `json:"analyzer_version"`
	Dialect         string   `json:"dialect"`
	AnalysisTime    float64  `json:"analysis_time"`
	RulesApplied    []string `json:"rules_applied"`
}

// Result is the full normalized analyzer output. It is both the result
// artifact written to the file store and the `result` field of completion
// events.
type Result struct {
	Violations       []Violation `json:"violations"`
	Summary          Summary     `json:"summary"`
	FileInfo         FileInfo    `json:"file_info"`
	AnalysisMetadata Metadata    `json:"analysis_metadata"`
}

// Service analyzes one SQL text at a time. Implementations must be safe for
// concurrent use.
type Service interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Severity labels.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// criticalRules are the layout/whitespace-structural codes reported with
// critical severity.
var criticalRules = map[string]bool{
	"L001": true,
	"L002": true,
	"L003": true,
	"L008": true,
	"L009": true,
}

// SeverityFor maps a rule code to its severity bucket.
func SeverityFor(code string) string {
	if criticalRules[code] {
		return SeverityCritical
	}
	return SeverityWarning
}
