package ingest

import (
	"errors"
	"testing"
	"time"

	"replay-ingest/internal/match"
)

var t0 = time.Date(2016, 3, 14, 12, 0, 0, 0, time.UTC)

func addParsed(t *testing.T, repo *InMemoryRepository, id FileID) {
	t.Helper()
	st := FileState{ID: id, Stage: StageUploaded, Header: &match.Header{MatchID: string(id)}}
	if err := repo.AddFile(st, []byte("raw")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if !repo.MarkHeaderParsed(id, t0) {
		t.Fatal("MarkHeaderParsed: false")
	}
}

func TestInMemoryRepository_AddFile(t *testing.T) {
	repo := NewInMemoryRepository()
	addParsed(t, repo, "f1")

	t.Run("duplicate_id", func(t *testing.T) {
		err := repo.AddFile(FileState{ID: "f1"}, nil)
		if !errors.Is(err, ErrFileExists) {
			t.Errorf("expected ErrFileExists, got %v", err)
		}
	})

	t.Run("snapshot_is_a_copy", func(t *testing.T) {
		if _, _, err := repo.Enqueue("f1", PriorityGeneral, t0); err != nil {
			t.Fatal(err)
		}
		st, _ := repo.Get("f1")
		st.Job.Status = JobDone
		again, _ := repo.Get("f1")
		if again.Job.Status != JobPending {
			t.Error("mutating a snapshot changed the repository")
		}
	})

	t.Run("mark_twice", func(t *testing.T) {
		if repo.MarkHeaderParsed("f1", t0) {
			t.Error("MarkHeaderParsed should only move uploaded files")
		}
	})
}

func TestInMemoryRepository_Enqueue(t *testing.T) {
	repo := NewInMemoryRepository()
	addParsed(t, repo, "f1")

	t.Run("not_found", func(t *testing.T) {
		_, _, err := repo.Enqueue("missing", PriorityGeneral, t0)
		if !errors.Is(err, ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("first_enqueue", func(t *testing.T) {
		job, queued, err := repo.Enqueue("f1", PriorityElevated, t0)
		if err != nil || !queued {
			t.Fatalf("queued=%v err=%v", queued, err)
		}
		if job.Attempt != 1 || job.Priority != PriorityElevated {
			t.Errorf("unexpected job %+v", job)
		}
		st, _ := repo.Get("f1")
		if st.Stage != StageNetstreamQueued {
			t.Errorf("stage = %s", st.Stage)
		}
	})

	t.Run("duplicate_enqueue_idempotent", func(t *testing.T) {
		job, queued, err := repo.Enqueue("f1", PriorityTournament, t0)
		if err != nil || queued {
			t.Fatalf("queued=%v err=%v", queued, err)
		}
		if job.Priority != PriorityElevated || job.Attempt != 1 {
			t.Errorf("existing job changed: %+v", job)
		}
	})

	t.Run("duplicate_enqueue_while_running", func(t *testing.T) {
		if _, _, ok := repo.StartJob("f1", 1, t0); !ok {
			t.Fatal("StartJob: false")
		}
		_, queued, err := repo.Enqueue("f1", PriorityGeneral, t0)
		if err != nil || queued {
			t.Errorf("queued=%v err=%v", queued, err)
		}
		pending, running := repo.JobCounts()
		if pending != 0 || running != 1 {
			t.Errorf("pending=%d running=%d", pending, running)
		}
	})
}

func TestInMemoryRepository_headerPending(t *testing.T) {
	repo := NewInMemoryRepository()
	if err := repo.AddFile(FileState{ID: "f1", Stage: StageUploaded}, nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := repo.Enqueue("f1", PriorityGeneral, t0); !errors.Is(err, ErrHeaderPending) {
		t.Errorf("Enqueue: expected ErrHeaderPending, got %v", err)
	}
	if _, _, err := repo.Retrigger("f1", PriorityGeneral, t0); !errors.Is(err, ErrHeaderPending) {
		t.Errorf("Retrigger: expected ErrHeaderPending, got %v", err)
	}
}

func TestInMemoryRepository_jobLifecycle(t *testing.T) {
	repo := NewInMemoryRepository()
	addParsed(t, repo, "f1")

	if _, _, err := repo.Enqueue("f1", PriorityGeneral, t0); err != nil {
		t.Fatal(err)
	}
	if repo.FinishJob("f1", 1, &match.Telemetry{}, t0) {
		t.Error("FinishJob must require a running job")
	}
	if _, _, ok := repo.StartJob("f1", 2, t0); ok {
		t.Error("StartJob must reject a stale attempt")
	}
	h, data, ok := repo.StartJob("f1", 1, t0)
	if !ok || h == nil || string(data) != "raw" {
		t.Fatalf("StartJob: ok=%v h=%v data=%q", ok, h, data)
	}
	if _, _, ok := repo.StartJob("f1", 1, t0); ok {
		t.Error("a job starts only once")
	}

	cause := match.FailureCause{Kind: "TIMEOUT", Stage: match.StageBudget}
	if !repo.FailJob("f1", 1, cause, t0.Add(time.Second)) {
		t.Fatal("FailJob: false")
	}
	st, _ := repo.Get("f1")
	if st.Stage != StageNetstreamFailed || !st.Failed || st.Cause.Stage != match.StageBudget {
		t.Errorf("unexpected state %+v", st)
	}
	if st.Header == nil || st.Header.MatchID != "f1" {
		t.Error("failure must keep header facts")
	}
	if repo.FinishJob("f1", 1, &match.Telemetry{}, t0) {
		t.Error("a failed job must not finish")
	}

	if _, _, err := repo.Enqueue("f1", PriorityGeneral, t0); !errors.Is(err, ErrNetstreamFailed) {
		t.Errorf("expected ErrNetstreamFailed, got %v", err)
	}
	job, queued, err := repo.Retrigger("f1", PriorityGeneral, t0)
	if err != nil || !queued || job.Attempt != 2 {
		t.Fatalf("Retrigger: job=%+v queued=%v err=%v", job, queued, err)
	}
	if _, _, ok := repo.StartJob("f1", 2, t0); !ok {
		t.Fatal("StartJob attempt 2: false")
	}
	if !repo.FinishJob("f1", 2, &match.Telemetry{}, t0) {
		t.Fatal("FinishJob: false")
	}
	st, _ = repo.Get("f1")
	if st.Stage != StageNetstreamParsed || st.Failed || st.Cause != nil || st.Telemetry == nil {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestInMemoryRepository_Remove(t *testing.T) {
	repo := NewInMemoryRepository()
	addParsed(t, repo, "f1")
	if _, _, err := repo.Enqueue("f1", PriorityGeneral, t0); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := repo.StartJob("f1", 1, t0); !ok {
		t.Fatal("StartJob: false")
	}

	if _, ok := repo.Remove("f1"); !ok {
		t.Fatal("Remove: false")
	}
	if repo.FinishJob("f1", 1, &match.Telemetry{}, t0) {
		t.Error("result for a removed file must be discarded")
	}
	if _, ok := repo.Remove("f1"); ok {
		t.Error("second Remove should report false")
	}
}
