package rest

import (
	"time"
)

type SubmitJobRequest struct {
	Name string `json:"name"`
	// Template names a registered job whose fields fill in anything the
	// request leaves empty.
	Template        string          `json:"template,omitempty"`
	Input           InputConfig     `json:"input"`
	Mapper          string          `json:"mapper"`
	Reducer         string          `json:"reducer"`
	KeyMarshaller   string          `json:"keyMarshaller"`
	ValueMarshaller string          `json:"valueMarshaller"`
	Output          OutputConfig    `json:"output"`
	Settings        *SettingsConfig `json:"settings,omitempty"`
}

type InputConfig struct {
	Type   string   `json:"type"` // "range", "entity" or "files"
	Start  int64    `json:"start,omitempty"`
	End    int64    `json:"end,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	Paths  []string `json:"paths,omitempty"` // Glob patterns or specific paths
	Shards int      `json:"shards"`
}

type OutputConfig struct {
	Type   string `json:"type"` // "memory", "file" or "none"
	Path   string `json:"path,omitempty"`
	Shards int    `json:"shards"`
}

type SettingsConfig struct {
	Parallelism        *int `json:"parallelism,omitempty"`
	MaxAttempts        *int `json:"maxAttempts,omitempty"`
	StepRecords        *int `json:"stepRecords,omitempty"`
	StepTimeoutSeconds *int `json:"stepTimeoutSeconds,omitempty"`
}

type SubmitJobResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	Links       Links     `json:"links"`
}

type Links struct {
	Self   string `json:"self"`
	Cancel string `json:"cancel"`
}

type GetJobResponse struct {
	JobID      string           `json:"job_id"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Mapper     string           `json:"mapper"`
	Reducer    string           `json:"reducer"`
	Progress   ProgressInfo     `json:"progress"`
	Counters   map[string]int64 `json:"counters"`
	Timestamps TimestampsInfo   `json:"timestamps"`
	Output     OutputInfo       `json:"output"`
	Error      string           `json:"error,omitempty"`
	Failures   []FailureInfo    `json:"failures"`
}

type ProgressInfo struct {
	Map    ShardProgress `json:"map"`
	Reduce ShardProgress `json:"reduce"`
}

type ShardProgress struct {
	Total   int   `json:"total"`
	Pending int   `json:"pending"`
	Active  int   `json:"active"`
	Done    int   `json:"done"`
	Records int64 `json:"records"`
}

type TimestampsInfo struct {
	Submitted time.Time  `json:"submitted"`
	Started   *time.Time `json:"started"`
	Completed *time.Time `json:"completed"`
}

type OutputInfo struct {
	Type      string   `json:"type,omitempty"`
	Location  string   `json:"location,omitempty"`
	Handles   []string `json:"handles,omitempty"`
	Values    [][]any  `json:"values,omitempty"`
	Available bool     `json:"available"`
}

type FailureInfo struct {
	Type     string `json:"type"`
	Shard    int    `json:"shard"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

type ListJobsResponse struct {
	Jobs       []JobSummary `json:"jobs"`
	Total      int          `json:"total"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
	NextOffset *int         `json:"next_offset,omitempty"`
}

type JobSummary struct {
	JobID       string     `json:"job_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type RegistryResponse struct {
	Jobs        []string `json:"jobs"`
	Mappers     []string `json:"mappers"`
	Reducers    []string `json:"reducers"`
	Marshallers []string `json:"marshallers"`
	InputTypes  []string `json:"input_types"`
	OutputTypes []string `json:"output_types"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
