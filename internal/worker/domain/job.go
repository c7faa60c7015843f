package domain

import (
	"encoding/json"
	"fmt"
)

// Job is a unit of work delivered by the queue. Fields other than jobId and
// query are kept verbatim in Extra.
type Job struct {
	JobID string
	Query string
	Extra map[string]json.RawMessage
}

// UnmarshalJSON decodes {"jobId": ..., "query": ..., ...}. A numeric jobId
// is kept in its decimal text form; any other non-string jobId or query is
// treated as missing.
func (j *Job) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*j = Job{}
	if v, ok := raw["jobId"]; ok {
		j.JobID = scalarID(v)
		delete(raw, "jobId")
	}
	if v, ok := raw["query"]; ok {
		_ = json.Unmarshal(v, &j.Query)
		delete(raw, "query")
	}
	if len(raw) > 0 {
		j.Extra = raw
	}

	return nil
}

// scalarID returns a string or number id as text, "" for anything else
func scalarID(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

// MarshalJSON encodes the job back into its wire form, extra fields included
func (j Job) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(j.Extra)+2)
	for k, v := range j.Extra {
		out[k] = v
	}
	if j.JobID != "" {
		out["jobId"] = j.JobID
	}
	if j.Query != "" {
		out["query"] = j.Query
	}
	return json.Marshal(out)
}

// DecodeJob parses a delivery body into a Job
func DecodeJob(body []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &job, nil
}

// StatusUpdate is the body posted to the status server
type StatusUpdate struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
	Result *string   `json:"result,omitempty"`
	Error  *JobError `json:"error,omitempty"`
}

// Validate checks the update against the reporting contract
func (u StatusUpdate) Validate() error {
	if u.JobID == "" {
		return ErrMissingJobID
	}
	if !u.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, u.Status)
	}
	if u.Result != nil && u.Error != nil {
		return ErrResultAndError
	}
	if u.Result != nil && u.Status != JobStatusCompleted {
		return fmt.Errorf("%w: result set on %s", ErrInvalidUpdate, u.Status)
	}
	if u.Error != nil && u.Status != JobStatusFailed {
		return fmt.Errorf("%w: error set on %s", ErrInvalidUpdate, u.Status)
	}
	return nil
}

// ProcessingResult is the in-memory outcome of one processing attempt
type ProcessingResult struct {
	Query     string    `json:"query,omitempty"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorType ErrorKind `json:"error_type,omitempty"`
	Status    string    `json:"status"`
}

// Succeeded reports whether the agent produced an answer
func (r ProcessingResult) Succeeded() bool {
	return r.Status == OutcomeSuccess
}

// NewSuccessResult builds the result of a completed job
func NewSuccessResult(query, response string) ProcessingResult {
	return ProcessingResult{
		Query:    query,
		Response: response,
		Status:   OutcomeSuccess,
	}
}

// NewErrorResult builds the result of a failed job
func NewErrorResult(err *JobError) ProcessingResult {
	return ProcessingResult{
		Error:     err.Message,
		ErrorType: err.Type,
		Status:    OutcomeError,
	}
}
