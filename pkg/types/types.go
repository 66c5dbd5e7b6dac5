package types

import "time"

// State is one of the nine legal record states.
type State string

const (
	Pending      State = "pending"
	ProcessingA  State = "processing_a"
	FoundA       State = "found_a"
	CheckB       State = "check_b"
	ProcessingB  State = "processing_b"
	FoundB       State = "found_b"
	NotFound     State = "not_found"
	ErrorA       State = "error_a"
	ErrorB       State = "error_b"
)

// Terminal reports whether a state is terminal (only left via retry).
func (s State) Terminal() bool {
	switch s {
	case FoundA, FoundB, NotFound, ErrorA, ErrorB:
		return true
	default:
		return false
	}
}

// Processing reports whether a state is one of the two processing states.
func (s State) Processing() bool {
	return s == ProcessingA || s == ProcessingB
}

// AllStates enumerates the nine declared values, in table order.
var AllStates = []State{Pending, ProcessingA, FoundA, CheckB, ProcessingB, FoundB, NotFound, ErrorA, ErrorB}

// LegacyTenantID is the sentinel tenant assigned to records found without a
// tenant-id field during the one-shot migration on first open.
const LegacyTenantID = "__legacy__"

// Batch is a group of records created from a single ingestion.
type Batch struct {
	ID                 uint64    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	SourceFilename     string    `json:"source_filename"`
	DeclaredRecordCount int      `json:"declared_record_count"`
	CreatedAt          time.Time `json:"created_at"`
}

// Payload is an opaque structured blob returned by a StageProcessor.
// Its shape is weakly specified by the external site; downstream code
// must tolerate missing fields.
type Payload map[string]any

// Record is one national-identification-number job instance.
type Record struct {
	ID              uint64    `json:"id"`
	BatchID         uint64    `json:"batch_id"`
	TenantID        string    `json:"tenant_id"`
	Key             string    `json:"key"`
	State           State     `json:"state"`
	RetryCount      int       `json:"retry_count"`
	PayloadA        Payload   `json:"payload_a,omitempty"`
	PayloadB        Payload   `json:"payload_b,omitempty"`
	LastErrorMessage string   `json:"last_error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StageResult is the tagged-variant result a StageProcessor returns for
// one invocation: exactly one of Found or NotFound is populated, or the
// processor raises an Exhausted error instead of returning a StageResult.
type StageResult struct {
	Found    bool
	Payload  Payload
	Reason   string
}

// ExhaustedError is raised by a StageProcessor when its internal retry
// policy has exhausted all attempts for one invocation.
type ExhaustedError struct {
	Reason string
}

func (e *ExhaustedError) Error() string { return e.Reason }

// SessionInfo is the Session Manager's per-tenant bookkeeping record.
type SessionInfo struct {
	TenantID     string
	LastActivity time.Time
	WorkerCount  int
}

// ServerStats is the global, non-tenant-scoped snapshot returned by
// server-stats.
type ServerStats struct {
	TotalWorkers   int `json:"total_workers"`
	MaxWorkers     int `json:"max_workers"`
	ActiveSessions int `json:"active_sessions"`
}

// StatusReport is the per-tenant status projection.
type StatusReport struct {
	Counts           map[State]int `json:"counts"`
	Total            int           `json:"total"`
	Completed        int           `json:"completed"`
	InProgress       int           `json:"in_progress"`
	ProgressPercent  float64       `json:"progress_percent"`
}

// ExportRow is one flattened export row, columns in the fixed order
// required by the export shape.
type ExportRow struct {
	Key           string `json:"key"`
	State         State  `json:"state"`
	Message       string `json:"message"`
	AName         string `json:"a_name"`
	AGrade        string `json:"a_grade"`
	AInstitution  string `json:"a_institution"`
	ADate         string `json:"a_date"`
	BName         string `json:"b_name"`
	BTitle        string `json:"b_title"`
	BInstitution  string `json:"b_institution"`
	BDate         string `json:"b_date"`
}
