package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T, maxUpload int64) (*chi.Mux, *Pipeline) {
	t.Helper()
	p, _ := newTestPipeline(t, Config{})
	h := NewHandler(p, quietLogger(), nil, maxUpload)
	r := chi.NewRouter()
	h.Mount(r)
	return r, p
}

func upload(t *testing.T, r http.Handler, target string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Uploader", "kaydop")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func uploadedID(t *testing.T, rec *httptest.ResponseRecorder) FileID {
	t.Helper()
	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return resp.FileID
}

func TestHandler_Upload(t *testing.T) {
	r, p := newTestRouter(t, 0)

	rec := upload(t, r, "/replays", sampleReplay(t, matchA))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.MatchID != matchA {
		t.Errorf("match_id = %q", resp.MatchID)
	}
	if resp.MatchUUID != "9e1a2b3c-4d5e-4f60-a1b2-c3d4e5f60718" {
		t.Errorf("match_uuid = %q", resp.MatchUUID)
	}
	if resp.Priority != "general" || resp.Queued {
		t.Errorf("priority=%q queued=%v", resp.Priority, resp.Queued)
	}
	st, ok := p.File(resp.FileID)
	if !ok || st.Uploader != "kaydop" {
		t.Errorf("stored file = %+v ok=%v", st, ok)
	}
}

func TestHandler_Upload_invalid(t *testing.T) {
	r, _ := newTestRouter(t, 0)

	rec := upload(t, r, "/replays", []byte("definitely not a replay file"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != invalidReplayMessage || resp.Kind == "" {
		t.Errorf("unexpected body %+v", resp)
	}
}

func TestHandler_Upload_empty(t *testing.T) {
	r, _ := newTestRouter(t, 0)

	rec := upload(t, r, "/replays", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Upload_tooLarge(t *testing.T) {
	r, _ := newTestRouter(t, 64)

	rec := upload(t, r, "/replays", sampleReplay(t, matchA))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestHandler_Upload_duplicate(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	raw := sampleReplay(t, matchA)

	first := upload(t, r, "/replays", raw)
	if first.Code != http.StatusCreated {
		t.Fatalf("setup: expected 201, got %d", first.Code)
	}
	id := uploadedID(t, first)

	rec := upload(t, r, "/replays", raw)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ExistingFileID != id {
		t.Errorf("existing_file_id = %q, want %q", resp.ExistingFileID, id)
	}
}

func TestHandler_EnqueueNetstream(t *testing.T) {
	r, p := newTestRouter(t, 0)
	id := uploadedID(t, upload(t, r, "/replays", sampleReplay(t, matchA)))

	req := httptest.NewRequest(http.MethodPost, "/replays/"+string(id)+"/netstream?priority=tournament", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	// Workers are not running, so the job is still pending.
	req = httptest.NewRequest(http.MethodPost, "/replays/"+string(id)+"/netstream", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate enqueue: expected 200, got %d", rec.Code)
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Queued || resp.Job.Priority != PriorityTournament {
		t.Errorf("unexpected job %+v", resp)
	}
	if q, _ := p.Gauges(); q != 1 {
		t.Errorf("queue depth = %d, want 1", q)
	}
}

func TestHandler_EnqueueNetstream_errors(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	id := uploadedID(t, upload(t, r, "/replays", sampleReplay(t, matchA)))

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown_file", "/replays/missing/netstream", http.StatusNotFound},
		{"bad_priority", "/replays/" + string(id) + "/netstream?priority=urgent", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestHandler_UploadAndQueue(t *testing.T) {
	r, p := newTestRouter(t, 0)
	start(t, p)

	rec := upload(t, r, "/replays?netstream=1", sampleReplay(t, matchA))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Queued {
		t.Fatal("expected netstream to be queued")
	}
	waitStage(t, p, resp.FileID, StageNetstreamParsed)

	req := httptest.NewRequest(http.MethodGet, "/replays/"+string(resp.FileID), nil)
	get := httptest.NewRecorder()
	r.ServeHTTP(get, req)
	if get.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", get.Code)
	}
	var st FileState
	if err := json.Unmarshal(get.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Stage != StageNetstreamParsed || st.Telemetry == nil {
		t.Errorf("stage=%s telemetry=%v", st.Stage, st.Telemetry != nil)
	}

	again := httptest.NewRequest(http.MethodPost, "/replays/"+string(resp.FileID)+"/netstream", nil)
	conflict := httptest.NewRecorder()
	r.ServeHTTP(conflict, again)
	if conflict.Code != http.StatusConflict {
		t.Errorf("enqueue after parse: expected 409, got %d", conflict.Code)
	}

	retrigger := httptest.NewRequest(http.MethodPost, "/replays/"+string(resp.FileID)+"/retrigger", nil)
	accepted := httptest.NewRecorder()
	r.ServeHTTP(accepted, retrigger)
	if accepted.Code != http.StatusAccepted {
		t.Errorf("retrigger: expected 202, got %d", accepted.Code)
	}
}

func TestHandler_GetFile_notFound(t *testing.T) {
	r, _ := newTestRouter(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/replays/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_DeleteFile(t *testing.T) {
	r, p := newTestRouter(t, 0)
	id := uploadedID(t, upload(t, r, "/replays", sampleReplay(t, matchA)))

	req := httptest.NewRequest(http.MethodDelete, "/replays/"+string(id), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := p.File(id); ok {
		t.Error("file still present after delete")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/replays/"+string(id), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}

	if _, err := p.IngestHeader(context.Background(), Upload{Data: sampleReplay(t, matchA)}); err != nil {
		t.Errorf("re-upload after delete: %v", err)
	}
}
