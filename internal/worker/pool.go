package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// FrameWorker annotates single frames. *PythonWorker is the production implementation.
type FrameWorker interface {
	Annotate(ctx context.Context, frame []byte) ([]byte, error)
	Close() error
}

// SpawnFunc starts worker number id.
type SpawnFunc func(ctx context.Context, id int) (FrameWorker, error)

// PythonSpawner starts PythonWorkers with cfg.
func PythonSpawner(cfg Config) SpawnFunc {
	return func(ctx context.Context, id int) (FrameWorker, error) {
		return NewPythonWorker(ctx, id, cfg)
	}
}

// Pool keeps a fixed number of engines. A frame checks out an idle engine for
// one round trip; an engine that fails is replaced.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	spawn  SpawnFunc
	logger *slog.Logger

	idle chan slot

	mu     sync.Mutex
	closed bool
}

type slot struct {
	id int
	w  FrameWorker
}

// NewPool spawns size engines up front so model load happens before the first request.
func NewPool(ctx context.Context, size int, spawn SpawnFunc, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		spawn:  spawn,
		logger: logger,
		idle:   make(chan slot, size),
	}

	for i := 0; i < size; i++ {
		w, err := spawn(ctx, i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("start engine %d: %w", i, err)
		}
		p.idle <- slot{id: i, w: w}
	}
	logger.Info("engines ready", "count", size)
	return p, nil
}

func (p *Pool) Size() int { return cap(p.idle) }

// Annotate runs frame through the next idle engine.
func (p *Pool) Annotate(ctx context.Context, frame []byte) ([]byte, error) {
	var s slot
	select {
	case s = <-p.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}

	out, err := s.w.Annotate(ctx, frame)
	if err == nil {
		p.release(s)
		return out, nil
	}

	p.logger.Warn("engine failed, restarting", "engine", s.id, "error", err)
	if pw, ok := s.w.(*PythonWorker); ok && pw.Logs() != "" {
		p.logger.Warn("engine stderr", "engine", s.id, "logs", pw.Logs())
	}
	s.w.Close()
	p.replace(s.id)
	return nil, fmt.Errorf("engine %d: %w", s.id, err)
}

func (p *Pool) release(s slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		s.w.Close()
		return
	}
	p.idle <- s
}

// replace spawns a fresh engine for id. If spawning fails the pool carries on
// with one engine fewer.
func (p *Pool) replace(id int) {
	w, err := p.spawn(p.ctx, id)
	if err != nil {
		p.logger.Error("engine restart failed", "engine", id, "error", err)
		return
	}
	p.release(slot{id: id, w: w})
}

// Close stops idle engines now and checked-out engines when they are returned.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()

	for {
		select {
		case s := <-p.idle:
			s.w.Close()
		default:
			return
		}
	}
}
