package types

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskSuccess    TaskStatus = "SUCCESS"
	TaskFailure    TaskStatus = "FAILURE"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskSuccess, TaskFailure:
		return true
	}
	return false
}

// SkipInvalidSQLPrefix marks a Task failure caused by the invalid-SQL filter.
// Tasks failed with this marker are never retried and are ignored when the
// parent Job's status is derived.
const SkipInvalidSQLPrefix = "skipped invalid SQL file"

// IsSkipError reports whether msg carries the invalid-SQL skip marker.
func IsSkipError(msg string) bool {
	return strings.HasPrefix(msg, SkipInvalidSQLPrefix)
}

type Task struct {
	TaskID         string     `gorm:"column:task_id;primaryKey" json:"task_id"`
	JobID          string     `gorm:"column:job_id;not null;index" json:"job_id"`
	Status         TaskStatus `gorm:"column:status;not null;index" json:"status"`
	SourceFilePath string     `gorm:"column:source_file_path;not null" json:"source_file_path"`
	ResultFilePath *string    `gorm:"column:result_file_path" json:"result_file_path,omitempty"`
	ErrorMessage   *string    `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

// FileName returns the base name of the task's source file.
func (t Task) FileName() string {
	p := t.SourceFilePath
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// IsIgnored reports whether the task is an invalid-SQL skip, which is
// excluded from job-status aggregation.
func (t Task) IsIgnored() bool {
	return t.Status == TaskFailure && t.ErrorMessage != nil && IsSkipError(*t.ErrorMessage)
}

// TaskCounts is the per-job aggregate the repository computes for derivation
// and for API statistics.
type TaskCounts struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Success    int64 `json:"success"`
	Failure    int64 `json:"failure"`
}
