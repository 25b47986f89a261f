package ingest

import (
	"strings"
	"time"

	"replay-ingest/internal/match"
)

// FileID identifies an uploaded replay file.
type FileID string

// Stage is the position of a file in the ingestion state machine.
type Stage string

const (
	StageUploaded        Stage = "uploaded"
	StageHeaderParsed    Stage = "header_parsed"
	StageNetstreamQueued Stage = "netstream_queued"
	StageNetstreamParsed Stage = "netstream_parsed"
	StageNetstreamFailed Stage = "netstream_failed"
)

// Priority orders netstream jobs in the queue. Higher runs first. It never
// affects what a job produces.
type Priority int

const (
	PriorityGeneral Priority = iota
	PriorityElevated
	PriorityTournament
)

func (p Priority) String() string {
	switch p {
	case PriorityTournament:
		return "tournament"
	case PriorityElevated:
		return "priority"
	default:
		return "general"
	}
}

// ParsePriority maps a priority class name to a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "general":
		return PriorityGeneral, true
	case "priority":
		return PriorityElevated, true
	case "tournament":
		return PriorityTournament, true
	}
	return PriorityGeneral, false
}

// PriorityPolicy decides the queue class for a file from its uploader and
// the unique ids of the players in it.
type PriorityPolicy func(uploader string, participants []string) Priority

// GeneralPolicy puts every file in the general class.
func GeneralPolicy(string, []string) Priority { return PriorityGeneral }

// JobStatus is the status of a netstream job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is the netstream parse job of a file. Attempt grows with every
// (re)trigger so results from an older attempt can be told apart.
type Job struct {
	Priority   Priority  `json:"priority"`
	Status     JobStatus `json:"status"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Upload is a file handed to IngestHeader.
type Upload struct {
	// FileID is optional; a random id is assigned when empty.
	FileID   FileID
	Uploader string
	Data     []byte
}

// FileState is the pipeline's view of one file.
type FileState struct {
	ID         FileID              `json:"file_id"`
	Uploader   string              `json:"uploader,omitempty"`
	Size       int                 `json:"size"`
	Stage      Stage               `json:"stage"`
	Header     *match.Header       `json:"header,omitempty"`
	Telemetry  *match.Telemetry    `json:"telemetry,omitempty"`
	Failed     bool                `json:"netstream_failed"`
	Cause      *match.FailureCause `json:"failure_cause,omitempty"`
	Job        *Job                `json:"job,omitempty"`
	UploadedAt time.Time           `json:"uploaded_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Active reports whether the file has a pending or running netstream job.
func (f *FileState) Active() bool {
	return f.Job != nil && (f.Job.Status == JobPending || f.Job.Status == JobRunning)
}

// clone returns a copy safe to hand out of the repository lock. Header and
// telemetry are written once and never mutated afterwards.
func (f *FileState) clone() FileState {
	c := *f
	if f.Job != nil {
		j := *f.Job
		c.Job = &j
	}
	if f.Cause != nil {
		cause := *f.Cause
		c.Cause = &cause
	}
	return c
}
