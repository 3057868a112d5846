package models

// Stage enumerates the per-record pipeline states.
const (
	StageStart              = "start"
	StageIDAllocated        = "id_allocated"
	StageArtifactsGenerated = "artifacts_generated"
	StageArtifactsPersisted = "artifacts_persisted"
	StageCredentialBuilt    = "credential_link_built"
	StageDone               = "done"
	StageFailed             = "failed"
)

// RunSummary describes the result of one certificate batch run.
type RunSummary struct {
	RunID      string   `json:"run_id"`
	AsOf       string   `json:"as_of"`
	Fetched    int      `json:"fetched"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	FailedRefs []string `json:"failed_references,omitempty"`
	Dispatched bool     `json:"dispatched"`
}

// DueDateSummary describes the result of one due-date run.
type DueDateSummary struct {
	RunID      string `json:"run_id"`
	AsOf       string `json:"as_of"`
	Scanned    int    `json:"scanned"`
	Assigned   int    `json:"assigned"`
	Skipped    int    `json:"skipped"`
	Dispatched bool   `json:"dispatched"`
}
