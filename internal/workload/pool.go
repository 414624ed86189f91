package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrzor/currentop/internal/opmeta"
	"github.com/mrzor/currentop/internal/workerstatus"
)

// ErrNotRunning is returned by Terminate when the worker is no longer running
// the named operation.
var ErrNotRunning = errors.New("operation is not running")

// Options shape the simulated load.
type Options struct {
	// Workers is the number of simulated workers, at most the table capacity.
	Workers int
	// MaxOperation bounds one operation's run time. Operations run for
	// between half and all of it.
	MaxOperation time.Duration
	// SessionRatio is the fraction of commands carrying a session id.
	SessionRatio float64
	// Seed fixes the random sequence. Zero picks a random seed.
	Seed uint64
	// BasePID is the pid of worker 0; worker i gets BasePID+i.
	BasePID int32
}

type worker struct {
	mu     sync.Mutex
	seq    uint32
	cancel context.CancelFunc
}

// Pool runs the simulated workers.
type Pool struct {
	table     *workerstatus.Table
	registrar *opmeta.Registrar
	opts      Options
	logger    *slog.Logger
	workers   []*worker
}

// New creates a pool writing to table through registrar. The registrar may be
// disabled; workers then only update their status entries.
func New(table *workerstatus.Table, registrar *opmeta.Registrar, opts Options, logger *slog.Logger) (*Pool, error) {
	if table == nil {
		return nil, errors.New("workload: nil status table")
	}
	if opts.Workers <= 0 || opts.Workers > table.Capacity() {
		return nil, fmt.Errorf("workload: workers must be in [1,%d], got %d", table.Capacity(), opts.Workers)
	}
	if opts.MaxOperation <= 0 {
		return nil, fmt.Errorf("workload: max operation must be positive, got %s", opts.MaxOperation)
	}
	if opts.Seed == 0 {
		opts.Seed = rand.Uint64()
	}
	if opts.BasePID <= 0 {
		opts.BasePID = 1000
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	workers := make([]*worker, opts.Workers)
	for i := range workers {
		workers[i] = &worker{}
	}
	return &Pool{
		table:     table,
		registrar: registrar,
		opts:      opts,
		logger:    logger,
		workers:   workers,
	}, nil
}

// Run drives every worker until ctx is done, then detaches them. It returns
// the first command generation failure, or nil after cancellation.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("starting workload",
		"workers", len(p.workers),
		"max_operation", p.opts.MaxOperation,
		"tracking", p.registrar.Enabled(),
		"seed", p.opts.Seed)

	g, ctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error {
			return p.runWorker(ctx, i)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, index int) error {
	gen := newGenerator(p.opts.Seed, index, p.opts.SessionRatio)
	p.table.Attach(index, p.opts.BasePID+int32(index), gen.client(), gen.appName())
	defer p.table.Detach(index)

	for {
		cmd, err := gen.next()
		if err != nil {
			return err
		}
		if !p.runOperation(ctx, index, gen, cmd) {
			return nil
		}
	}
}

// runOperation runs one command to completion or termination. It reports
// false once ctx is done.
func (p *Pool) runOperation(ctx context.Context, index int, gen *generator, cmd command) bool {
	w := p.workers[index]
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.seq = p.registrar.Register(index, cmd.doc)
	w.cancel = cancel
	w.mu.Unlock()
	p.table.Begin(index, cmd.activity)

	half := p.opts.MaxOperation / 2
	d := half + time.Duration(gen.rng.Int64N(int64(p.opts.MaxOperation-half)+1))
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-opCtx.Done():
		timer.Stop()
		if ctx.Err() == nil {
			p.logger.Debug("operation terminated", "worker", index, "command", cmd.name)
		}
	}

	w.mu.Lock()
	w.cancel = nil
	w.mu.Unlock()
	p.table.Finish(index)

	return ctx.Err() == nil
}

// Terminate interrupts worker's operation if it is still the one numbered seq.
func (p *Pool) Terminate(worker int, seq uint32) error {
	if worker < 0 || worker >= len(p.workers) {
		return fmt.Errorf("%w: worker %d is not part of the workload", ErrNotRunning, worker)
	}
	w := p.workers[worker]
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil || w.seq != seq {
		return fmt.Errorf("%w: worker %d sequence %d", ErrNotRunning, worker, seq)
	}
	w.cancel()
	w.cancel = nil
	return nil
}
