package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"replay-ingest/internal/decodeerr"
	"replay-ingest/internal/match"
	"replay-ingest/internal/platform/metrics"
	"replay-ingest/internal/replay"
)

// DefaultWorkers is the netstream worker count when none is configured.
const DefaultWorkers = 2

// DefaultJobTimeout is the wall-clock budget of one netstream job.
const DefaultJobTimeout = 30 * time.Second

var tracer = otel.Tracer("replay-ingest/internal/ingest")

// Config tunes a Pipeline.
type Config struct {
	Workers            int
	JobTimeout         time.Duration
	GoalFrameTolerance int
	// FilterSize is the expected match count the duplicate filter is sized for.
	FilterSize uint
	Policy     PriorityPolicy
}

type decodeFunc func(buf []byte, h *match.Header, opts replay.Options) (*match.Telemetry, error)

// Pipeline runs both processing tiers for uploaded files. The header tier
// runs on the caller's goroutine; netstream jobs run on Run's workers.
type Pipeline struct {
	repo    Repository
	facts   FactStore
	queue   *jobQueue
	dedupe  *dedupe
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	decode  decodeFunc
	now     func() time.Time
}

// NewPipeline returns a Pipeline over repo and facts. Metrics may be nil to
// disable metric recording (e.g. in tests).
func NewPipeline(repo Repository, facts FactStore, cfg Config, log *slog.Logger, m *metrics.Metrics) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.Policy == nil {
		cfg.Policy = GeneralPolicy
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		repo:    repo,
		facts:   facts,
		queue:   newJobQueue(),
		dedupe:  newDedupe(cfg.FilterSize, facts),
		cfg:     cfg,
		log:     log,
		metrics: m,
		decode:  replay.DecodeNetstream,
		now:     time.Now,
	}
}

// Load seeds duplicate detection from the fact store. Until it has run every
// upload is checked against the store.
func (p *Pipeline) Load(ctx context.Context) error {
	n, err := p.dedupe.load(ctx)
	if err != nil {
		return err
	}
	p.log.Info("duplicate filter loaded", slog.Int("matches", n))
	return nil
}

// IngestHeader runs the header tier over an upload and commits the header
// facts. Nothing is committed when decoding fails or the match was already
// uploaded; the latter returns a *DuplicateMatchError.
func (p *Pipeline) IngestHeader(ctx context.Context, up Upload) (FileState, error) {
	ctx, span := tracer.Start(ctx, "ingest.header",
		trace.WithAttributes(attribute.Int("replay.size", len(up.Data))))
	defer span.End()

	size := humanize.Bytes(uint64(len(up.Data)))
	h, err := replay.DecodeHeader(up.Data)
	if err != nil {
		kind, _ := decodeerr.KindOf(err)
		if p.metrics != nil {
			p.metrics.IncHeaderRejected(string(kind))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "header rejected")
		p.log.Info("upload rejected",
			slog.String("uploader", up.Uploader),
			slog.String("size", size),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return FileState{}, fmt.Errorf("ingest header: %w", err)
	}
	span.SetAttributes(attribute.String("replay.match_id", h.MatchID))

	id := up.FileID
	if id == "" {
		id = FileID(uuid.NewString())
	}
	span.SetAttributes(attribute.String("replay.file_id", string(id)))

	holder, dup, err := p.dedupe.reserve(ctx, h.MatchID, id)
	if err != nil {
		span.RecordError(err)
		return FileState{}, err
	}
	if dup {
		if p.metrics != nil {
			p.metrics.IncDuplicateUploads()
		}
		p.log.Info("duplicate upload rejected",
			slog.String("match_id", h.MatchID),
			slog.String("existing_file_id", string(holder)),
			slog.String("uploader", up.Uploader))
		return FileState{}, &DuplicateMatchError{MatchID: h.MatchID, Existing: holder}
	}

	now := p.now()
	st := FileState{
		ID:         id,
		Uploader:   up.Uploader,
		Size:       len(up.Data),
		Stage:      StageUploaded,
		Header:     h,
		UploadedAt: now,
		UpdatedAt:  now,
	}
	if err := p.repo.AddFile(st, up.Data); err != nil {
		p.dedupe.release(h.MatchID, id)
		return FileState{}, err
	}
	if err := p.facts.CommitHeader(ctx, id, h); err != nil {
		p.repo.Remove(id)
		p.dedupe.release(h.MatchID, id)
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit header")
		return FileState{}, fmt.Errorf("commit header: %w", err)
	}
	if !p.repo.MarkHeaderParsed(id, p.now()) {
		// Withdrawn while the header was being committed.
		if err := p.facts.DeleteFile(context.WithoutCancel(ctx), id); err != nil {
			p.log.Error("delete orphaned header facts",
				slog.String("file_id", string(id)),
				slog.String("error", err.Error()))
		}
		p.dedupe.release(h.MatchID, id)
		return FileState{}, ErrFileNotFound
	}

	if p.metrics != nil {
		p.metrics.IncUploads(len(up.Data))
	}
	p.log.Info("header ingested",
		slog.String("file_id", string(id)),
		slog.String("match_id", h.MatchID),
		slog.String("map", h.Map),
		slog.Int("players", len(h.Players)),
		slog.Int("goals", len(h.Goals)),
		slog.String("size", size))

	st, _ = p.repo.Get(id)
	return st, nil
}

// PriorityFor applies the configured policy to a file's uploader and the
// unique ids of its players.
func (p *Pipeline) PriorityFor(uploader string, h *match.Header) Priority {
	var participants []string
	if h != nil {
		participants = make([]string, 0, len(h.Players))
		for _, pl := range h.Players {
			participants = append(participants, pl.UniqueID)
		}
	}
	return p.cfg.Policy(uploader, participants)
}

// EnqueueNetstream schedules the netstream tier for a file. A second call
// while a job is pending or running is a no-op and reports queued false.
func (p *Pipeline) EnqueueNetstream(id FileID, pr Priority) (Job, bool, error) {
	job, queued, err := p.repo.Enqueue(id, pr, p.now())
	if err != nil || !queued {
		return job, false, err
	}
	p.queue.push(id, job.Attempt, pr)
	p.log.Info("netstream queued",
		slog.String("file_id", string(id)),
		slog.String("priority", pr.String()),
		slog.Int("attempt", job.Attempt))
	return job, true, nil
}

// Retrigger is the operator re-run of the netstream tier. It also restarts
// files whose previous attempt failed.
func (p *Pipeline) Retrigger(id FileID, pr Priority) (Job, bool, error) {
	job, queued, err := p.repo.Retrigger(id, pr, p.now())
	if err != nil || !queued {
		return job, false, err
	}
	p.queue.push(id, job.Attempt, pr)
	p.log.Info("netstream retriggered",
		slog.String("file_id", string(id)),
		slog.String("priority", pr.String()),
		slog.Int("attempt", job.Attempt))
	return job, true, nil
}

// Withdraw removes a deleted file from the pipeline. A queued job is dropped
// before it starts; the result of a running job is discarded.
func (p *Pipeline) Withdraw(ctx context.Context, id FileID) error {
	dropped := p.queue.remove(id)
	st, ok := p.repo.Remove(id)
	if !ok {
		return ErrFileNotFound
	}
	if err := p.facts.DeleteFile(ctx, id); err != nil {
		return fmt.Errorf("delete facts: %w", err)
	}
	if st.Header != nil {
		p.dedupe.release(st.Header.MatchID, id)
	}
	p.log.Info("file withdrawn",
		slog.String("file_id", string(id)),
		slog.Bool("job_dropped", dropped),
		slog.Bool("job_running", st.Job != nil && st.Job.Status == JobRunning))
	return nil
}

// File returns a snapshot of a file's state.
func (p *Pipeline) File(id FileID) (FileState, bool) {
	return p.repo.Get(id)
}

// Gauges returns the queue depth and the number of running jobs.
func (p *Pipeline) Gauges() (queued, running int) {
	_, running = p.repo.JobCounts()
	return p.queue.len(), running
}

// Run starts the netstream workers and blocks until ctx is done. Jobs that
// are running when ctx ends are allowed to finish.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("netstream workers starting",
		slog.Int("workers", p.cfg.Workers),
		slog.Duration("job_timeout", p.cfg.JobTimeout))

	g, ctx := errgroup.WithContext(ctx)
	for i := range p.cfg.Workers {
		g.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) work(ctx context.Context, worker int) {
	for {
		it, err := p.queue.pop(ctx)
		if err != nil {
			return
		}
		p.runJob(ctx, worker, it)
	}
}

func (p *Pipeline) runJob(ctx context.Context, worker int, it queueItem) {
	log := p.log.With(
		slog.String("file_id", string(it.fileID)),
		slog.Int("attempt", it.attempt),
		slog.Int("worker", worker))

	h, data, ok := p.repo.StartJob(it.fileID, it.attempt, p.now())
	if !ok {
		log.Debug("netstream job skipped")
		return
	}

	// Commits must land even if shutdown starts mid-job.
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "ingest.netstream", trace.WithAttributes(
		attribute.String("replay.file_id", string(it.fileID)),
		attribute.String("replay.match_id", h.MatchID),
		attribute.String("replay.priority", it.priority.String()),
		attribute.Int("replay.attempt", it.attempt)))
	defer span.End()

	start := time.Now()
	tel, err := p.decodeWithBudget(data, h)
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.ObserveNetstreamDuration(elapsed.Seconds())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "netstream failed")
		p.fail(ctx, log, it, replay.Cause(err))
		return
	}

	if err := p.facts.CommitTelemetry(ctx, it.fileID, tel); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit telemetry")
		p.fail(ctx, log, it, match.FailureCause{Stage: match.StageCommit, Message: err.Error()})
		return
	}
	if !p.repo.FinishJob(it.fileID, it.attempt, tel, p.now()) {
		// Withdrawn while running.
		if err := p.facts.DeleteFile(ctx, it.fileID); err != nil {
			log.Error("discard telemetry", slog.String("error", err.Error()))
		}
		p.outcome("discarded")
		log.Info("netstream result discarded")
		return
	}

	p.outcome("parsed")
	if p.metrics != nil {
		p.metrics.AddDecodeIssues("unknown_field", tel.Stats.SkippedFields)
		p.metrics.AddDecodeIssues("abandoned_frame", tel.Stats.AbandonedFrames)
		p.metrics.AddDecodeIssues("range_violation", tel.Stats.RangeViolations)
		p.metrics.AddDecodeIssues("unattributed_sample", tel.Stats.UnattributedSamples)
	}
	log.Info("netstream parsed",
		slog.Int("frames", tel.Stats.Frames),
		slog.Int("players", len(tel.Players)),
		slog.Int("skipped_fields", tel.Stats.SkippedFields),
		slog.Int("abandoned_frames", tel.Stats.AbandonedFrames),
		slog.Int("range_violations", tel.Stats.RangeViolations),
		slog.Duration("elapsed", elapsed))
}

type decodeResult struct {
	tel *match.Telemetry
	err error
}

// decodeWithBudget runs the decoder under the job timeout. The decoder is not
// interrupted when the budget runs out; its late result is dropped.
func (p *Pipeline) decodeWithBudget(data []byte, h *match.Header) (*match.Telemetry, error) {
	done := make(chan decodeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- decodeResult{err: decodeerr.New(decodeerr.KindMalformedStructure, "netstream", -1, "decoder panic: %v", r)}
			}
		}()
		tel, err := p.decode(data, h, replay.Options{GoalFrameTolerance: p.cfg.GoalFrameTolerance, Logger: p.log})
		done <- decodeResult{tel: tel, err: err}
	}()

	timer := time.NewTimer(p.cfg.JobTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.tel, r.err
	case <-timer.C:
		err := decodeerr.New(decodeerr.KindTimeout, "netstream", -1, "budget %s exceeded", p.cfg.JobTimeout)
		return nil, decodeerr.WithTier(err, decodeerr.TierNetstream)
	}
}

func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, it queueItem, cause match.FailureCause) {
	if !p.repo.FailJob(it.fileID, it.attempt, cause, p.now()) {
		p.outcome("discarded")
		log.Info("netstream failure discarded", slog.String("kind", string(cause.Kind)))
		return
	}
	if err := p.facts.MarkNetstreamFailed(ctx, it.fileID, cause); err != nil {
		log.Error("record netstream failure", slog.String("error", err.Error()))
	}
	outcome := "failed"
	if cause.Kind == decodeerr.KindTimeout {
		outcome = "timeout"
	}
	p.outcome(outcome)
	log.Warn("netstream failed",
		slog.String("kind", string(cause.Kind)),
		slog.String("stage", cause.Stage),
		slog.String("error", cause.Message))
}

func (p *Pipeline) outcome(o string) {
	if p.metrics != nil {
		p.metrics.IncNetstreamJobs(o)
	}
}
