package preview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/executor"
	"github.com/instantpreview/instantpreview/internal/fingerprint"
	"github.com/instantpreview/instantpreview/internal/languages"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metrics"
)

// State of the runner's current cycle.
type State string

const (
	StateIdle      State = "idle"
	StateDirty     State = "dirty"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Trigger says what started a run.
type Trigger string

const (
	TriggerExplicit Trigger = "explicit"
	TriggerAuto     Trigger = "auto"
)

// Result describes one finished run.
type Result struct {
	Trigger   Trigger
	Plan      Plan
	Language  string
	Document  Document
	Execution *executor.Result
	Duration  time.Duration
	Err       error
}

// Done is called exactly once per run, on success and on failure.
type Done func(Result)

// Runner owns the preview state machine:
//
//	Idle/Dirty --run--> Running --written--> Completed --ack--> Idle
//
// Failed runs go back to Dirty and leave the surface untouched.
type Runner struct {
	surface     Surface
	exec        executor.Executor
	execTimeout time.Duration
	log         *zap.Logger

	// runMu serializes runs so documents reach the surface in trigger order.
	runMu sync.Mutex

	mu          sync.Mutex
	state       State
	autoRefresh bool
	current     fingerprint.Sum
	lastRun     fingerprint.Sum
	hasRun      bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor sets the executor used for non-web languages.
func WithExecutor(e executor.Executor) Option {
	return func(r *Runner) { r.exec = e }
}

// WithExecTimeout bounds every executor call.
func WithExecTimeout(d time.Duration) Option {
	return func(r *Runner) { r.execTimeout = d }
}

// WithAutoRefresh sets the initial auto-refresh flag.
func WithAutoRefresh(on bool) Option {
	return func(r *Runner) { r.autoRefresh = on }
}

// NewRunner creates an idle runner writing to surface. Without an executor,
// non-web runs use a zero-latency placeholder.
func NewRunner(surface Surface, opts ...Option) *Runner {
	r := &Runner{
		surface:     surface,
		execTimeout: 10 * time.Second,
		log:         logging.Named("preview"),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.exec == nil {
		r.exec = executor.NewPlaceholder(0)
	}
	return r
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// AutoRefresh reports whether content changes start runs.
func (r *Runner) AutoRefresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoRefresh
}

// SetAutoRefresh turns automatic runs on or off.
func (r *Runner) SetAutoRefresh(on bool) {
	r.mu.Lock()
	r.autoRefresh = on
	r.mu.Unlock()
}

// ContentChanged records the latest content. The input becomes Dirty when it
// differs from what the last successful run used. With auto-refresh on and
// an auto-runnable language, a dirty input starts exactly one run and
// ContentChanged reports true.
func (r *Runner) ContentChanged(ctx context.Context, in Input, done Done) bool {
	fp := in.Fingerprint()

	r.mu.Lock()
	r.current = fp
	if r.hasRun && fp == r.lastRun {
		if r.state == StateDirty {
			r.state = StateIdle
		}
		r.mu.Unlock()
		metrics.RecordAutoRunSkip("unchanged")
		return false
	}
	if r.state != StateRunning {
		r.state = StateDirty
	}
	auto := r.autoRefresh
	r.mu.Unlock()

	switch {
	case !auto:
		metrics.RecordAutoRunSkip("disabled")
		return false
	case languages.IsNonExecutable(in.Language):
		metrics.RecordAutoRunSkip("non_executable")
		return false
	case !in.AutoRunnable():
		metrics.RecordAutoRunSkip("not_web")
		return false
	}

	r.Run(ctx, in, TriggerAuto, done)
	return true
}

// Run synthesizes a document for in and replaces the surface with it. The
// returned Result is also passed to done.
func (r *Runner) Run(ctx context.Context, in Input, trigger Trigger, done Done) Result {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	r.state = StateRunning
	r.current = in.Fingerprint()
	r.mu.Unlock()

	start := time.Now()
	plan := in.Plan()
	res := Result{Trigger: trigger, Plan: plan, Language: languages.Canonical(in.Language)}

	doc, exec, err := r.synthesize(ctx, in, plan)
	if err == nil {
		doc, err = r.surface.Replace(doc)
	}
	res.Execution = exec
	res.Duration = time.Since(start)

	r.mu.Lock()
	if err != nil {
		r.state = StateDirty
	} else {
		r.state = StateCompleted
		r.lastRun = doc.Fingerprint
		r.hasRun = true
	}
	r.mu.Unlock()

	res.Document = doc
	res.Err = err
	metrics.RecordPreviewRun(string(trigger), string(plan), res.Duration, err == nil)
	if err != nil {
		r.log.Warn("preview run failed",
			zap.String("trigger", string(trigger)),
			zap.String("plan", string(plan)),
			zap.Error(err))
	} else {
		r.log.Debug("preview run completed",
			zap.String("trigger", string(trigger)),
			zap.String("plan", string(plan)),
			zap.Uint64("version", doc.Version),
			zap.Duration("duration", res.Duration))
	}

	if done != nil {
		done(res)
	}
	return res
}

// Acknowledge ends a completed cycle. The runner returns to Idle, or to
// Dirty when content changed while the run was in flight.
func (r *Runner) Acknowledge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCompleted {
		return
	}
	if r.current != r.lastRun {
		r.state = StateDirty
		return
	}
	r.state = StateIdle
}

func (r *Runner) synthesize(ctx context.Context, in Input, plan Plan) (Document, *executor.Result, error) {
	doc := Document{Plan: plan, Language: languages.Canonical(in.Language), Fingerprint: in.Fingerprint()}

	switch plan {
	case PlanWeb:
		html, err := BuildDocument(in.HTML, in.CSS, in.JS)
		if err != nil {
			return Document{}, nil, err
		}
		doc.HTML = html
		return doc, nil, nil

	case PlanMarkdown:
		html, err := RenderMarkdown(in.Code)
		if err != nil {
			return Document{}, nil, err
		}
		doc.HTML = html
		return doc, nil, nil

	default:
		execCtx := ctx
		if r.execTimeout > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(ctx, r.execTimeout)
			defer cancel()
		}
		out, err := r.exec.Execute(execCtx, executor.Request{Code: in.Code, Language: doc.Language})
		if err != nil {
			return Document{}, nil, fmt.Errorf("%w: execute %s: %w", ErrSynthesis, doc.Language, err)
		}
		html, err := RenderExecution(doc.Language, out)
		if err != nil {
			return Document{}, &out, err
		}
		doc.HTML = html
		return doc, &out, nil
	}
}
