package store

import "time"

// Run is one harness run.
type Run struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Suite      string    `json:"suite"`
	Passed     bool      `json:"passed"`
	Phase      string    `json:"phase"`
	Reason     string    `json:"reason,omitempty"`
	LogPath    string    `json:"log_path"`
	Signature  string    `json:"signature"`
	Trace      []string  `json:"trace"`
	Failures   []string  `json:"failures"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Injection is one entry of a run's injection trace.
type Injection struct {
	RunID        string `json:"run_id"`
	Seq          int64  `json:"seq"`
	Artifact     string `json:"artifact"`
	Path         string `json:"path"`
	Digest       string `json:"digest"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
	BeforeOffset int64  `json:"before_offset"`
	BeforeLine   int64  `json:"before_line"`
	AfterOffset  int64  `json:"after_offset"`
	AfterLine    int64  `json:"after_line"`
}

// Evidence is one log line that matched the error signature.
type Evidence struct {
	RunID       string `json:"run_id"`
	Seq         int64  `json:"seq"`
	Line        int64  `json:"line"`
	Text        string `json:"text"`
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint"`
}
