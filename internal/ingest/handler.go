package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/platform/metrics"
)

// DefaultMaxUploadBytes caps an upload body when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

const invalidReplayMessage = "file does not seem to be a valid replay file"

// Handler exposes the ingestion pipeline over HTTP using go-chi.
type Handler struct {
	svc       *Pipeline
	log       *slog.Logger
	metrics   *metrics.Metrics
	maxUpload int64
}

// NewHandler returns a Handler that uses the given Pipeline, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests). maxUpload <= 0
// uses DefaultMaxUploadBytes.
func NewHandler(svc *Pipeline, log *slog.Logger, m *metrics.Metrics, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Handler{svc: svc, log: log, metrics: m, maxUpload: maxUpload}
}

// Mount registers the replay routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/replays", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Route("/{file_id}", func(r chi.Router) {
			r.Get("/", h.GetFile)
			r.Delete("/", h.DeleteFile)
			r.Post("/netstream", h.EnqueueNetstream)
			r.Post("/retrigger", h.Retrigger)
		})
	})
}

type uploadResponse struct {
	FileID      FileID `json:"file_id"`
	MatchID     string `json:"match_id"`
	MatchUUID   string `json:"match_uuid"`
	Summary     string `json:"summary"`
	MatchLength string `json:"match_length"`
	Priority    string `json:"priority"`
	Queued      bool   `json:"netstream_queued"`
}

type jobResponse struct {
	FileID FileID `json:"file_id"`
	Queued bool   `json:"queued"`
	Job    Job    `json:"job"`
}

type errorResponse struct {
	Error          string `json:"error"`
	Kind           string `json:"kind,omitempty"`
	Detail         string `json:"detail,omitempty"`
	ExistingFileID FileID `json:"existing_file_id,omitempty"`
}

// Upload handles POST /replays. The body is the raw replay file. The uploader
// is taken from the X-Uploader header; ?netstream=1 also queues the
// netstream tier at the policy's priority.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.Info("upload too large", slog.String("limit", humanize.Bytes(uint64(h.maxUpload))))
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload exceeds " + humanize.Bytes(uint64(h.maxUpload))})
			return
		}
		h.log.Debug("read upload failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty upload"})
		return
	}

	uploader := r.Header.Get("X-Uploader")
	st, err := h.svc.IngestHeader(r.Context(), Upload{Uploader: uploader, Data: data})
	if err != nil {
		var dup *DuplicateMatchError
		var de *decodeerr.Error
		switch {
		case errors.As(err, &dup):
			writeJSON(w, http.StatusConflict, errorResponse{
				Error:          "this replay has already been uploaded",
				ExistingFileID: dup.Existing,
			})
		case errors.As(err, &de):
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:  invalidReplayMessage,
				Kind:   string(de.Kind),
				Detail: de.Error(),
			})
		default:
			h.log.Error("ingest header failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	pr := h.svc.PriorityFor(uploader, st.Header)
	resp := uploadResponse{
		FileID:      st.ID,
		MatchID:     st.Header.MatchID,
		MatchUUID:   st.Header.UUID(),
		Summary:     st.Header.Summary(),
		MatchLength: st.Header.MatchLength(),
		Priority:    pr.String(),
	}
	if r.URL.Query().Get("netstream") == "1" {
		_, queued, err := h.svc.EnqueueNetstream(st.ID, pr)
		if err != nil {
			h.log.Error("enqueue after upload failed",
				slog.String("file_id", string(st.ID)),
				slog.String("error", err.Error()))
		}
		resp.Queued = queued
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetFile handles GET /replays/{file_id}.
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := FileID(chi.URLParam(r, "file_id"))
	st, ok := h.svc.File(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteFile handles DELETE /replays/{file_id}.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := FileID(chi.URLParam(r, "file_id"))
	if err := h.svc.Withdraw(r.Context(), id); err != nil {
		if errors.Is(err, ErrFileNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.Error("withdraw failed", slog.String("file_id", string(id)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnqueueNetstream handles POST /replays/{file_id}/netstream?priority=.
// Without a priority the configured policy decides.
func (h *Handler) EnqueueNetstream(w http.ResponseWriter, r *http.Request) {
	h.schedule(w, r, h.svc.EnqueueNetstream)
}

// Retrigger handles POST /replays/{file_id}/retrigger?priority=.
func (h *Handler) Retrigger(w http.ResponseWriter, r *http.Request) {
	h.schedule(w, r, h.svc.Retrigger)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request, fn func(FileID, Priority) (Job, bool, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := FileID(chi.URLParam(r, "file_id"))
	st, ok := h.svc.File(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	pr := h.svc.PriorityFor(st.Uploader, st.Header)
	if raw := r.URL.Query().Get("priority"); raw != "" {
		parsed, ok := ParsePriority(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown priority " + raw})
			return
		}
		pr = parsed
	}

	job, queued, err := fn(id, pr)
	if err != nil {
		switch {
		case errors.Is(err, ErrFileNotFound):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, ErrAlreadyParsed), errors.Is(err, ErrNetstreamFailed), errors.Is(err, ErrHeaderPending):
			h.log.Info("netstream enqueue rejected",
				slog.String("file_id", string(id)),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		default:
			h.log.Error("netstream enqueue failed", slog.String("file_id", string(id)), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, jobResponse{FileID: id, Queued: queued, Job: job})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
