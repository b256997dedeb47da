package events

import "encoding/json"

// ErrorInfo is the failure detail carried on SqlCheckFailed events.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// SqlCheckRequested asks a worker to analyze one SQL file. Batch fields are
// set only for tasks that came out of an archive decomposition.
type SqlCheckRequested struct {
	JobID           string                 `json:"job_id"`
	FileName        string                 `json:"file_name"`
	SQLFilePath     string                 `json:"sql_file_path"`
	Dialect         string                 `json:"dialect,omitempty"`
	Rules           []string               `json:"rules,omitempty"`
	ExcludeRules    []string               `json:"exclude_rules,omitempty"`
	ConfigOverrides map[string]interface{} `json:"config_overrides,omitempty"`
	BatchID         string                 `json:"batch_id,omitempty"`
	FileIndex       *int                   `json:"file_index,omitempty"`
	TotalFiles      *int                   `json:"total_files,omitempty"`
	UserID          string                 `json:"user_id,omitempty"`
	ProductName     string                 `json:"product_name,omitempty"`

	Extensions map[string]json.RawMessage `json:"-"`
}

func (p *SqlCheckRequested) EventType() Type { return TypeSqlCheckRequested }

func (p *SqlCheckRequested) MarshalJSON() ([]byte, error) {
	type alias SqlCheckRequested
	return marshalWithExtensions((*alias)(p), p.Extensions)
}

func (p *SqlCheckRequested) UnmarshalJSON(data []byte) error {
	type alias SqlCheckRequested
	ext, err := unmarshalWithExtensions(data, (*alias)(p))
	if err != nil {
		return err
	}
	p.Extensions = ext
	return nil
}

// SqlCheckCompleted reports a successful analysis. Result holds the full
// analyzer output verbatim; ResultFilePath is where the same document was
// written on the shared store.
type SqlCheckCompleted struct {
	JobID              string          `json:"job_id"`
	FileName           string          `json:"file_name"`
	Result             json.RawMessage `json:"result"`
	ResultFilePath     string          `json:"result_file_path"`
	ProcessingDuration float64         `json:"processing_duration"`
	WorkerID           string          `json:"worker_id"`
	BatchID            string          `json:"batch_id,omitempty"`
	FileIndex          *int            `json:"file_index,omitempty"`
	TotalFiles         *int            `json:"total_files,omitempty"`

	Extensions map[string]json.RawMessage `json:"-"`
}

func (p *SqlCheckCompleted) EventType() Type { return TypeSqlCheckCompleted }

func (p *SqlCheckCompleted) MarshalJSON() ([]byte, error) {
	type alias SqlCheckCompleted
	return marshalWithExtensions((*alias)(p), p.Extensions)
}

func (p *SqlCheckCompleted) UnmarshalJSON(data []byte) error {
	type alias SqlCheckCompleted
	ext, err := unmarshalWithExtensions(data, (*alias)(p))
	if err != nil {
		return err
	}
	p.Extensions = ext
	return nil
}

// SqlCheckFailed reports a terminal or to-be-retried analysis failure.
type SqlCheckFailed struct {
	JobID      string    `json:"job_id"`
	FileName   string    `json:"file_name"`
	Error      ErrorInfo `json:"error"`
	WorkerID   string    `json:"worker_id"`
	BatchID    string    `json:"batch_id,omitempty"`
	FileIndex  *int      `json:"file_index,omitempty"`
	TotalFiles *int      `json:"total_files,omitempty"`

	Extensions map[string]json.RawMessage `json:"-"`
}

func (p *SqlCheckFailed) EventType() Type { return TypeSqlCheckFailed }

func (p *SqlCheckFailed) MarshalJSON() ([]byte, error) {
	type alias SqlCheckFailed
	return marshalWithExtensions((*alias)(p), p.Extensions)
}

func (p *SqlCheckFailed) UnmarshalJSON(data []byte) error {
	type alias SqlCheckFailed
	ext, err := unmarshalWithExtensions(data, (*alias)(p))
	if err != nil {
		return err
	}
	p.Extensions = ext
	return nil
}

// WorkerHeartbeat is published on the monitoring channel every heartbeat
// interval. Status is BUSY while at least one task is executing.
type WorkerHeartbeat struct {
	WorkerID       string  `json:"worker_id"`
	CurrentTasks   int     `json:"current_tasks"`
	TotalProcessed int64   `json:"total_processed"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	Status         string  `json:"status"`

	Extensions map[string]json.RawMessage `json:"-"`
}

func (p *WorkerHeartbeat) EventType() Type { return TypeWorkerHeartbeat }

func (p *WorkerHeartbeat) MarshalJSON() ([]byte, error) {
	type alias WorkerHeartbeat
	return marshalWithExtensions((*alias)(p), p.Extensions)
}

func (p *WorkerHeartbeat) UnmarshalJSON(data []byte) error {
	type alias WorkerHeartbeat
	ext, err := unmarshalWithExtensions(data, (*alias)(p))
	if err != nil {
		return err
	}
	p.Extensions = ext
	return nil
}
