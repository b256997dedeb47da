package types

import "time"

type JobStatus string

const (
	JobAccepted           JobStatus = "ACCEPTED"
	JobProcessing         JobStatus = "PROCESSING"
	JobCompleted          JobStatus = "COMPLETED"
	JobPartiallyCompleted JobStatus = "PARTIALLY_COMPLETED"
	JobFailed             JobStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further derivation.
// FAILED is re-drivable and therefore not absorbing.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobPartiallyCompleted, JobFailed:
		return true
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobAccepted, JobProcessing, JobCompleted, JobPartiallyCompleted, JobFailed:
		return true
	}
	return false
}

type SubmissionType string

const (
	SubmissionSingleFile SubmissionType = "SINGLE_FILE"
	SubmissionArchive    SubmissionType = "ARCHIVE"
)

func (t SubmissionType) Valid() bool {
	return t == SubmissionSingleFile || t == SubmissionArchive
}

type Job struct {
	JobID          string         `gorm:"column:job_id;primaryKey" json:"job_id"`
	SubmissionType SubmissionType `gorm:"column:submission_type;not null;index" json:"submission_type"`
	SourcePath     string         `gorm:"column:source_path;not null" json:"source_path"`
	Dialect        string         `gorm:"column:dialect;not null" json:"dialect"`
	Status         JobStatus      `gorm:"column:status;not null;index" json:"status"`
	UserID         string         `gorm:"column:user_id" json:"user_id"`
	ProductName    string         `gorm:"column:product_name" json:"product_name"`
	ErrorMessage   *string        `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at" json:"updated_at"`

	Tasks []Task `gorm:"foreignKey:JobID;references:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Job) TableName() string { return "jobs" }
