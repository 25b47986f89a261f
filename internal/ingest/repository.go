package ingest

import (
	"errors"
	"sync"
	"time"

	"replay-ingest/internal/match"
)

// Repository defines the concurrency-safe contract for file state and
// netstream job bookkeeping.
type Repository interface {
	// AddFile stores a file whose header tier has succeeded. It fails with
	// ErrFileExists if the id is taken.
	AddFile(st FileState, data []byte) error

	// Get returns a snapshot of the file's state.
	Get(id FileID) (FileState, bool)

	// MarkHeaderParsed moves an uploaded file to HeaderParsed once its
	// header facts are committed.
	MarkHeaderParsed(id FileID, now time.Time) bool

	// Enqueue creates the first netstream job for a file. If a job is already
	// pending or running the call is a no-op and queued is false. A file that
	// already finished its netstream tier returns ErrAlreadyParsed or
	// ErrNetstreamFailed.
	Enqueue(id FileID, p Priority, now time.Time) (job Job, queued bool, err error)

	// Retrigger starts a new attempt for a file that is not active,
	// whatever its last outcome. It is a no-op against an active job.
	Retrigger(id FileID, p Priority, now time.Time) (job Job, queued bool, err error)

	// StartJob moves a pending job of the given attempt to running and
	// returns what the decoder needs. ok is false if the file was withdrawn
	// or the attempt is stale.
	StartJob(id FileID, attempt int, now time.Time) (h *match.Header, data []byte, ok bool)

	// FinishJob records telemetry for a running attempt. It reports false
	// when the result must be discarded.
	FinishJob(id FileID, attempt int, tel *match.Telemetry, now time.Time) bool

	// FailJob records a failure cause for a running attempt. Header facts
	// are left as they are.
	FailJob(id FileID, attempt int, cause match.FailureCause, now time.Time) bool

	// Remove deletes a file and its job.
	Remove(id FileID) (FileState, bool)

	// JobCounts returns the number of pending and running jobs. Used for metrics.
	JobCounts() (pending, running int)
}

var (
	// ErrFileNotFound is returned for operations on an unknown file id.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileExists is returned when adding a file under a taken id.
	ErrFileExists = errors.New("file already exists")

	// ErrHeaderPending is returned when enqueueing a file whose header facts
	// are not committed yet.
	ErrHeaderPending = errors.New("header not committed")

	// ErrAlreadyParsed is returned when enqueueing a file whose netstream
	// tier already succeeded.
	ErrAlreadyParsed = errors.New("netstream already parsed")

	// ErrNetstreamFailed is returned when enqueueing a file whose netstream
	// tier failed. Failure is terminal until an operator retriggers it.
	ErrNetstreamFailed = errors.New("netstream parse failed")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// AddFile implements Repository.AddFile.
func (r *InMemoryRepository) AddFile(st FileState, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetFile(st.ID); exists {
		return ErrFileExists
	}
	st.Job = nil
	r.store.SetFile(&fileRecord{state: st, data: data})
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id FileID) (FileState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.store.GetFile(id)
	if !ok {
		return FileState{}, false
	}
	return rec.state.clone(), true
}

// MarkHeaderParsed implements Repository.MarkHeaderParsed.
func (r *InMemoryRepository) MarkHeaderParsed(id FileID, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.GetFile(id)
	if !ok || rec.state.Stage != StageUploaded {
		return false
	}
	rec.state.Stage = StageHeaderParsed
	rec.state.UpdatedAt = now
	return true
}

// Enqueue implements Repository.Enqueue.
func (r *InMemoryRepository) Enqueue(id FileID, p Priority, now time.Time) (Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.GetFile(id)
	if !ok {
		return Job{}, false, ErrFileNotFound
	}
	st := &rec.state
	if st.Active() {
		return *st.Job, false, nil
	}
	switch st.Stage {
	case StageUploaded:
		return Job{}, false, ErrHeaderPending
	case StageNetstreamParsed:
		return Job{}, false, ErrAlreadyParsed
	case StageNetstreamFailed:
		return Job{}, false, ErrNetstreamFailed
	}
	return r.queueLocked(st, p, now), true, nil
}

// Retrigger implements Repository.Retrigger.
func (r *InMemoryRepository) Retrigger(id FileID, p Priority, now time.Time) (Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.GetFile(id)
	if !ok {
		return Job{}, false, ErrFileNotFound
	}
	if rec.state.Active() {
		return *rec.state.Job, false, nil
	}
	if rec.state.Stage == StageUploaded {
		return Job{}, false, ErrHeaderPending
	}
	return r.queueLocked(&rec.state, p, now), true, nil
}

func (r *InMemoryRepository) queueLocked(st *FileState, p Priority, now time.Time) Job {
	attempt := 1
	if st.Job != nil {
		attempt = st.Job.Attempt + 1
	}
	st.Job = &Job{Priority: p, Status: JobPending, Attempt: attempt, EnqueuedAt: now}
	st.Stage = StageNetstreamQueued
	st.UpdatedAt = now
	return *st.Job
}

// StartJob implements Repository.StartJob.
func (r *InMemoryRepository) StartJob(id FileID, attempt int, now time.Time) (*match.Header, []byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.GetFile(id)
	if !ok || rec.state.Job == nil {
		return nil, nil, false
	}
	job := rec.state.Job
	if job.Attempt != attempt || job.Status != JobPending {
		return nil, nil, false
	}
	job.Status = JobRunning
	job.StartedAt = now
	rec.state.UpdatedAt = now
	return rec.state.Header, rec.data, true
}

// FinishJob implements Repository.FinishJob.
func (r *InMemoryRepository) FinishJob(id FileID, attempt int, tel *match.Telemetry, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.runningLocked(id, attempt)
	if !ok {
		return false
	}
	st.Job.Status = JobDone
	st.Job.FinishedAt = now
	st.Stage = StageNetstreamParsed
	st.Telemetry = tel
	st.Failed = false
	st.Cause = nil
	st.UpdatedAt = now
	return true
}

// FailJob implements Repository.FailJob.
func (r *InMemoryRepository) FailJob(id FileID, attempt int, cause match.FailureCause, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.runningLocked(id, attempt)
	if !ok {
		return false
	}
	st.Job.Status = JobFailed
	st.Job.FinishedAt = now
	st.Stage = StageNetstreamFailed
	st.Telemetry = nil
	st.Failed = true
	st.Cause = &cause
	st.UpdatedAt = now
	return true
}

func (r *InMemoryRepository) runningLocked(id FileID, attempt int) (*FileState, bool) {
	rec, ok := r.store.GetFile(id)
	if !ok || rec.state.Job == nil {
		return nil, false
	}
	if rec.state.Job.Attempt != attempt || rec.state.Job.Status != JobRunning {
		return nil, false
	}
	return &rec.state, true
}

// Remove implements Repository.Remove.
func (r *InMemoryRepository) Remove(id FileID) (FileState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.GetFile(id)
	if !ok {
		return FileState{}, false
	}
	r.store.DeleteFile(id)
	return rec.state.clone(), true
}

// JobCounts implements Repository.JobCounts.
func (r *InMemoryRepository) JobCounts() (pending, running int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.store.ListFileIDs() {
		rec, _ := r.store.GetFile(id)
		if rec.state.Job == nil {
			continue
		}
		switch rec.state.Job.Status {
		case JobPending:
			pending++
		case JobRunning:
			running++
		}
	}
	return pending, running
}
