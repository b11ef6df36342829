// Package session owns the single in-flight submission cycle of one client
// session and the presentation state derived from it.
package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mhdmirzan/pose-estimation/internal/media"
)

// DefaultDeadline bounds every outbound call from its start.
const DefaultDeadline = 65 * time.Second

// Request is one outbound inference call. Upload is nil for sample retrieval.
type Request struct {
	Kind     media.Kind
	Endpoint string
	Upload   *UploadedFile
}

// Transport performs the outbound call and returns the annotated bytes.
type Transport interface {
	Do(ctx context.Context, req Request) ([]byte, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.deadline = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithKind sets the kind the session starts in (Image by default).
func WithKind(k media.Kind) Option {
	return func(o *Orchestrator) { o.state.Kind = k }
}

// Orchestrator applies cycle transitions to a State. Every transition holds mu,
// so a resolution and the token check that guards it are atomic.
type Orchestrator struct {
	transport Transport
	deadline  time.Duration
	logger    *slog.Logger

	// ctx is handed to transport calls. Superseded calls are not cancelled;
	// only Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	seq         uint64
	done        chan struct{}
	subscribers []chan View
}

func New(transport Transport, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		transport: transport,
		deadline:  DefaultDeadline,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:       ctx,
		cancel:    cancel,
		state:     initialState(media.Image),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns a snapshot of the session aggregate.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// View returns the current presentation projection.
func (o *Orchestrator) View() View {
	return Project(o.State())
}

// Token is the sequence number of the most recent cycle (0 before the first).
func (o *Orchestrator) Token() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq
}

// Done is closed when the current cycle resolves, is superseded or is reset.
// With no cycle in flight the returned channel is already closed.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.done
}

// Subscribe delivers a View after every transition. Slow subscribers miss
// intermediate views rather than block the session.
func (o *Orchestrator) Subscribe() <-chan View {
	ch := make(chan View, 8)
	o.mu.Lock()
	o.subscribers = append(o.subscribers, ch)
	o.mu.Unlock()
	return ch
}

// SubmitUploadedFile starts a cycle for user-supplied bytes. A cycle already
// in flight is superseded.
func (o *Orchestrator) SubmitUploadedFile(file UploadedFile, kind media.Kind) error {
	if err := media.ValidateFile(kind, file.Name); err != nil {
		return &ValidationError{Err: err}
	}
	if len(file.Data) == 0 {
		return validation("%s is empty", file.Name)
	}

	p := media.Classify(kind)
	preview := Reference{
		Data:        file.Data,
		ContentType: file.ContentType(),
		Filename:    file.Name,
	}
	req := Request{Kind: kind, Endpoint: p.InferenceEndpoint, Upload: &file}
	o.begin(kind, file, preview, req)
	return nil
}

// SubmitSample starts a cycle for a server-hosted sample. The name is
// validated before any path is built from it.
func (o *Orchestrator) SubmitSample(filename string, kind media.Kind) error {
	if err := media.ValidateSampleName(filename); err != nil {
		return &ValidationError{Err: err}
	}
	p := media.Classify(kind)
	if !p.Accepts(filename) {
		return validation("%q is not a %s sample", filename, kind)
	}

	preview := Reference{
		Path:     p.SamplePreviewPath(filename),
		Filename: filename,
	}
	req := Request{Kind: kind, Endpoint: p.SampleEndpoint(filename)}
	o.begin(kind, SampleReference{Filename: filename}, preview, req)
	return nil
}

// Reset clears the session. It is a no-op when nothing is active.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.empty() {
		return
	}
	o.resetLocked()
	o.publishLocked()
}

// SwitchKind resets the session and makes kind active.
func (o *Orchestrator) SwitchKind(kind media.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if kind == o.state.Kind {
		return
	}
	o.resetLocked()
	o.state.Kind = kind
	o.publishLocked()
}

// Close cancels outstanding transport calls. The session must not be used afterwards.
func (o *Orchestrator) Close() {
	o.cancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	o.finishLocked()
	for _, ch := range o.subscribers {
		close(ch)
	}
	o.subscribers = nil
}

func (o *Orchestrator) begin(kind media.Kind, src Source, preview Reference, req Request) {
	o.mu.Lock()
	if kind != o.state.Kind {
		o.resetLocked()
		o.state.Kind = kind
	}
	if o.state.Processing {
		o.logger.Debug("superseding cycle", "token", o.seq)
	}
	o.seq++
	token := o.seq
	o.finishLocked()
	o.done = make(chan struct{})

	o.state.Source = src
	o.state.Preview = preview
	o.state.Outcome = nil
	o.state.Processing = true
	o.publishLocked()
	o.mu.Unlock()

	o.logger.Info("cycle started", "token", token, "kind", kind, "source", src.DisplayName(), "endpoint", req.Endpoint)
	go o.run(token, req)
}

type callResult struct {
	data []byte
	err  error
}

// run races the transport call against the deadline timer. The loser is ignored.
func (o *Orchestrator) run(token uint64, req Request) {
	start := time.Now()
	results := make(chan callResult, 1)
	go func() {
		data, err := o.transport.Do(o.ctx, req)
		results <- callResult{data: data, err: err}
	}()

	timer := time.NewTimer(o.deadline)
	defer timer.Stop()

	var outcome Outcome
	select {
	case r := <-results:
		outcome = o.outcomeFor(req.Kind, r)
	case <-timer.C:
		outcome = TimedOut{Message: timeoutMessage(req.Kind)}
	}

	o.resolve(token, outcome, time.Since(start))
}

func (o *Orchestrator) outcomeFor(kind media.Kind, r callResult) Outcome {
	switch {
	case r.err == nil:
		return Success{Result: r.data}
	case isTimeout(r.err):
		return TimedOut{Message: timeoutMessage(kind)}
	default:
		return Failed{Message: failureMessage(kind), Err: r.err}
	}
}

func (o *Orchestrator) resolve(token uint64, outcome Outcome, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if token != o.seq || !o.state.Processing {
		o.logger.Debug("discarding stale resolution", "token", token, "current", o.seq)
		return
	}

	o.state.Outcome = outcome
	o.state.Processing = false
	o.finishLocked()
	o.publishLocked()

	switch oc := outcome.(type) {
	case Success:
		o.logger.Info("cycle succeeded", "token", token, "bytes", len(oc.Result), "elapsed", elapsed)
	case TimedOut:
		o.logger.Warn("cycle timed out", "token", token, "elapsed", elapsed)
	case Failed:
		o.logger.Error("cycle failed", "token", token, "error", oc.Err, "elapsed", elapsed)
	}
}

// resetLocked returns the aggregate to its initial form for the current kind and
// advances the token so an outstanding cycle can no longer resolve.
func (o *Orchestrator) resetLocked() {
	if o.state.Processing {
		o.seq++
	}
	o.state = initialState(o.state.Kind)
	o.finishLocked()
}

func (o *Orchestrator) finishLocked() {
	if o.done != nil {
		close(o.done)
		o.done = nil
	}
}

func (o *Orchestrator) publishLocked() {
	v := Project(o.state)
	for _, ch := range o.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
}
