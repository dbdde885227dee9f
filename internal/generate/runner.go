// Package generate runs content generation jobs: mind maps, podcasts and
// summaries. Jobs are keyed by (documentID, kind); submitting while a job
// is already running for the same pair supersedes it. Progress is pushed
// to the caller as a finite event stream, and finished results land in the
// draft lifecycle manager.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/synaptic/internal/analysis"
	"github.com/kalambet/synaptic/internal/lifecycle"
	"github.com/kalambet/synaptic/internal/storage"
	"github.com/kalambet/synaptic/internal/stream"
)

// ReasonSuperseded is the terminal error reason a handle receives when a
// newer submission for the same (documentID, kind) takes over.
const ReasonSuperseded = "superseded"

// ValidationError rejects a malformed request before any job starts. It is
// never delivered through the event stream.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// Params are caller-supplied generation options. Zero values mean "derive
// from the document's complexity profile".
type Params struct {
	Nodes int `json:"nodes,omitempty"`
	Depth int `json:"depth,omitempty"`
}

// CompletePayload is the payload of the terminal complete event.
type CompletePayload struct {
	DraftRef   string `json:"draft_ref"`
	DocumentID string `json:"document_id"`
	Kind       string `json:"kind"`
	RunID      string `json:"run_id"`
}

// Generator produces the artifact content for one job. Implementations
// report progress through emit with percentages in [0, 100).
type Generator interface {
	Generate(ctx context.Context, doc storage.Document, kind string, params Params, emit func(percent int, message string)) (lifecycle.Content, error)
}

// DocumentStore loads the document a job works on.
type DocumentStore interface {
	GetDocument(id string) (storage.Document, error)
}

// RunStore records job executions for post-hoc status queries.
type RunStore interface {
	SaveGenerationRun(r storage.GenerationRun) error
	UpdateGenerationRun(id, status string, progress int, errMsg, draftRef string) error
}

// DraftSink receives finished generation results.
type DraftSink interface {
	Put(documentID, kind string, content lifecycle.Content) (lifecycle.Draft, error)
}

// Handle is the caller's view of a submitted job. Events delivers a finite
// stream ending in exactly one terminal event; the channel is closed after
// it. A caller that stops reading does not stop the job.
type Handle struct {
	RunID      string
	DocumentID string
	Kind       string

	events chan stream.Event

	mu         sync.Mutex
	maxPercent int
	terminated bool
	cancel     context.CancelFunc
}

// Events returns the job's progress event channel.
func (h *Handle) Events() <-chan stream.Event { return h.events }

// Progress returns the highest percent emitted so far.
func (h *Handle) Progress() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxPercent
}

// emit delivers a non-terminal event. Percent values are clamped to be
// non-decreasing; events are dropped when the consumer is not keeping up.
func (h *Handle) emit(e stream.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.terminated {
		return
	}
	if e.Kind == stream.KindProgress {
		if e.Percent < h.maxPercent {
			e.Percent = h.maxPercent
		}
		h.maxPercent = e.Percent
	}

	select {
	case h.events <- e:
	default:
	}
}

// terminate delivers the terminal event and closes the channel. Safe to
// call more than once; only the first call wins. Unlike emit, the terminal
// event is never dropped: a full buffer evicts its oldest progress event to
// make room, so every stream ends with exactly one complete or error.
func (h *Handle) terminate(e stream.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.terminated {
		return false
	}
	h.terminated = true
	if e.Kind == stream.KindComplete {
		h.maxPercent = 100
	}

	select {
	case h.events <- e:
	default:
		// emit holds the same lock, so we are the only sender here and
		// the post-eviction send cannot block.
		select {
		case <-h.events:
		default:
		}
		h.events <- e
	}
	close(h.events)

	if h.cancel != nil {
		h.cancel()
	}
	return true
}

// Runner executes generation jobs.
type Runner struct {
	docs      DocumentStore
	runs      RunStore
	drafts    DraftSink
	generator Generator

	heartbeat time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Handle // documentID+"/"+kind -> active handle
}

// NewRunner creates a Runner. heartbeat <= 0 disables heartbeats; timeout
// <= 0 defaults to 10 minutes.
func NewRunner(docs DocumentStore, runs RunStore, drafts DraftSink, generator Generator, heartbeat, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Runner{
		docs:      docs,
		runs:      runs,
		drafts:    drafts,
		generator: generator,
		heartbeat: heartbeat,
		timeout:   timeout,
		logger:    slog.Default(),
		jobs:      make(map[string]*Handle),
	}
}

// Submit validates the request and starts a generation job. A running job
// for the same (documentID, kind) is superseded: its handle receives a
// terminal error with reason "superseded" and its context is cancelled.
func (r *Runner) Submit(documentID, kind string, params Params) (*Handle, error) {
	if documentID == "" {
		return nil, &ValidationError{Field: "documentID", Detail: "must not be empty"}
	}
	if !lifecycle.ValidKind(kind) {
		return nil, &ValidationError{Field: "kind", Detail: fmt.Sprintf("unknown kind %q", kind)}
	}
	if params.Nodes < 0 {
		return nil, &ValidationError{Field: "nodes", Detail: "must not be negative"}
	}
	if params.Depth < 0 {
		return nil, &ValidationError{Field: "depth", Detail: "must not be negative"}
	}

	doc, err := r.docs.GetDocument(documentID)
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", documentID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)

	h := &Handle{
		RunID:      uuid.New().String(),
		DocumentID: documentID,
		Kind:       kind,
		events:     make(chan stream.Event, 64),
		cancel:     cancel,
	}

	run := storage.GenerationRun{
		ID:         h.RunID,
		DocumentID: documentID,
		Kind:       kind,
		Status:     "running",
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.runs.SaveGenerationRun(run); err != nil {
		cancel()
		return nil, fmt.Errorf("recording run: %w", err)
	}

	key := documentID + "/" + kind
	r.mu.Lock()
	if prev, ok := r.jobs[key]; ok {
		if prev.terminate(stream.Error(ReasonSuperseded)) {
			r.logger.Info("superseding running job", "document_id", documentID, "kind", kind, "run_id", prev.RunID)
			if err := r.runs.UpdateGenerationRun(prev.RunID, "failed", prev.Progress(), ReasonSuperseded, ""); err != nil {
				r.logger.Error("failed to record superseded run", "run_id", prev.RunID, "error", err)
			}
		}
	}
	r.jobs[key] = h
	r.mu.Unlock()

	go r.run(ctx, h, doc, params)

	return h, nil
}

func (r *Runner) run(ctx context.Context, h *Handle, doc storage.Document, params Params) {
	defer func() {
		r.mu.Lock()
		key := h.DocumentID + "/" + h.Kind
		if r.jobs[key] == h {
			delete(r.jobs, key)
		}
		r.mu.Unlock()
	}()

	if r.heartbeat > 0 {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					h.emit(stream.Event{Kind: stream.KindHeartbeat})
				}
			}
		}()
	}

	h.emit(stream.Progress(0, "starting"))
	r.recordProgress(h, 0)

	// Fill in profile-derived defaults when the caller left them out.
	if params.Nodes == 0 || params.Depth == 0 {
		profile := analysis.Analyze(doc.ExtractedText)
		if params.Nodes == 0 {
			params.Nodes = profile.RecommendedNodes
		}
		if params.Depth == 0 {
			params.Depth = profile.RecommendedDepth
		}
		h.emit(stream.Progress(5, fmt.Sprintf("analyzed document: %s", profile.Label)))
		r.recordProgress(h, 5)
	}

	content, err := r.generator.Generate(ctx, doc, h.Kind, params, func(percent int, message string) {
		if percent > 99 {
			percent = 99
		}
		h.emit(stream.Progress(percent, message))
		r.recordProgress(h, percent)
	})
	if err != nil {
		r.fail(h, err)
		return
	}
	if ctx.Err() != nil {
		r.fail(h, ctx.Err())
		return
	}

	draft, err := r.drafts.Put(h.DocumentID, h.Kind, content)
	if err != nil {
		r.fail(h, fmt.Errorf("storing draft: %w", err))
		return
	}

	payload, err := json.Marshal(CompletePayload{
		DraftRef:   draft.Ref,
		DocumentID: h.DocumentID,
		Kind:       h.Kind,
		RunID:      h.RunID,
	})
	if err != nil {
		r.fail(h, fmt.Errorf("encoding completion: %w", err))
		return
	}

	if h.terminate(stream.Complete(payload)) {
		if err := r.runs.UpdateGenerationRun(h.RunID, "completed", 100, "", draft.Ref); err != nil {
			r.logger.Error("failed to record completed run", "run_id", h.RunID, "error", err)
		}
	}
}

// fail emits the single terminal error event. A superseded job loses the
// terminate race and stays silent.
func (r *Runner) fail(h *Handle, err error) {
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "generation timed out"
	}
	r.logger.Warn("generation failed", "run_id", h.RunID, "kind", h.Kind, "error", err)
	if h.terminate(stream.Error(reason)) {
		if updErr := r.runs.UpdateGenerationRun(h.RunID, "failed", h.Progress(), reason, ""); updErr != nil {
			r.logger.Error("failed to record failed run", "run_id", h.RunID, "error", updErr)
		}
	}
}

// recordProgress updates the run row for reconnecting callers. It holds the
// handle lock across the write: terminate flips the flag under the same
// lock before the terminal row update, so a late generator emit can never
// overwrite a failed or superseded row back to running.
func (r *Runner) recordProgress(h *Handle, percent int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.terminated {
		return
	}
	if err := r.runs.UpdateGenerationRun(h.RunID, "running", percent, "", ""); err != nil {
		r.logger.Error("failed to record progress", "run_id", h.RunID, "error", err)
	}
}

// Active reports whether a job is currently running for the pair.
func (r *Runner) Active(documentID, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[documentID+"/"+kind]
	return ok
}
