package async

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tryfix/log"
)

// Fn is a long running process owned by a RunGroup.
type Fn func(*Opts) error

// Opts is handed to every Fn in the group.
type Opts struct {
	ctx context.Context

	readyOnce sync.Once

	// ready is closed once the process finished bootstrapping (state recovery, table sync etc.)
	ready chan struct{}
}

// Context is cancelled when the group starts shutting down.
func (opts *Opts) Context() context.Context {
	return opts.ctx
}

// Stopping returns a channel that is closed when the process should stop.
func (opts *Opts) Stopping() <-chan struct{} {
	return opts.ctx.Done()
}

// Ready marks the process as ready. Calling it more than once is a no-op.
func (opts *Opts) Ready() {
	opts.readyOnce.Do(func() {
		close(opts.ready)
	})
}

var ErrInterrupted = errors.New(`interrupted`)

// RunGroup runs a set of processes and stops all of them as soon as one fails.
type RunGroup struct {
	fns          []Fn
	readies      []chan struct{}
	cancel       context.CancelFunc
	stopped      chan struct{}
	started      chan struct{}
	shutDownOnce sync.Once
	mu           sync.Mutex
	err          error
	logger       log.Logger
	shuttingDown bool
}

func NewRunGroup(logger log.Logger, fns ...Fn) *RunGroup {
	tg := &RunGroup{
		stopped: make(chan struct{}),
		started: make(chan struct{}),
		logger:  logger.NewLog(log.Prefixed(`AsyncGroup`)),
	}

	for _, fn := range fns {
		tg.Add(fn)
	}

	return tg
}

// Add registers fn. Functions added after Run was called are ignored.
func (tg *RunGroup) Add(fn Fn) *RunGroup {
	tg.fns = append(tg.fns, fn)
	tg.readies = append(tg.readies, make(chan struct{}))
	return tg
}

// Run starts every function and blocks until all of them returned. The first
// non nil error is returned.
func (tg *RunGroup) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	tg.mu.Lock()
	tg.cancel = cancel
	tg.mu.Unlock()
	close(tg.started)

	wg := new(sync.WaitGroup)
	wg.Add(len(tg.fns))

	for i, fn := range tg.fns {
		go func(fn Fn, ready chan struct{}) {
			defer wg.Done()
			defer LogPanicTrace(tg.logger)

			opts := &Opts{
				ctx:   ctx,
				ready: ready,
			}

			// A returning process never blocks Ready()
			defer opts.Ready()

			if err := fn(opts); err != nil {
				tg.notifyShutDown(err)
			}
		}(fn, tg.readies[i])
	}

	go func() {
		select {
		case <-ctx.Done():
			tg.notifyShutDown(nil)
		case <-tg.stopped:
		}
	}()

	wg.Wait()
	cancel()
	close(tg.stopped)

	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.err
}

func (tg *RunGroup) notifyShutDown(err error) {
	tg.shutDownOnce.Do(func() {
		tg.mu.Lock()
		if err != nil {
			tg.err = err
			tg.logger.Error(fmt.Sprintf(`Processes stopping due to %s`, err))
		} else {
			tg.logger.Info(`Interrupted, Processes stopping...`)
		}
		tg.shuttingDown = true
		cancel := tg.cancel
		tg.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	})
}

// Ready blocks until every process called Ready (or returned).
func (tg *RunGroup) Ready(ctx context.Context) error {
	for _, ready := range tg.readies {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.err == nil && tg.shuttingDown {
		return ErrInterrupted
	}

	return tg.err
}

// Stop cancels every process and waits for Run to return.
func (tg *RunGroup) Stop() {
	<-tg.started
	tg.notifyShutDown(nil)
	<-tg.stopped
	tg.logger.Info(`Processes stopped`)
}
