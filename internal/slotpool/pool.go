package slotpool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"faasd/internal/faaserr"
	"faasd/internal/metrics"
	"faasd/internal/protocol"
)

// reapEvent is posted by a slot's per-process cmd.Wait() goroutine. There
// is no SIGCHLD handler to write in Go; cmd.Wait() already is the
// decoupled consumer of a child's exit, isolated onto its own goroutine.
type reapEvent struct {
	index      int
	generation uint64
}

// Supervisor owns the worker pool.
type Supervisor struct {
	binaryPath   string
	respawnDelay time.Duration
	killGrace    time.Duration
	log          zerolog.Logger

	slots []*slot

	reapCh    chan reapEvent
	respawnCh chan reapEvent
	done      chan struct{}

	// onStateChange is invoked whenever a slot's selectability may have
	// changed, so the Dispatcher's selectable[] mirror stays current
	// without a second socket hop.
	onStateChange func(index int, selectable bool, generation uint64, pid int)

	metrics *metrics.Registry
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithStateChangeHook registers the callback the Dispatcher uses to mirror
// slot selectability.
func WithStateChangeHook(fn func(index int, selectable bool, generation uint64, pid int)) Option {
	return func(s *Supervisor) { s.onStateChange = fn }
}

// WithKillGrace overrides the SIGTERM-then-SIGKILL grace period (default
// 500ms).
func WithKillGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.killGrace = d }
}

// WithMetrics wires a metrics registry so respawns and in-flight jobs are
// observable; nil disables instrumentation.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Supervisor) { s.metrics = reg }
}

// New constructs a Supervisor for poolSize slots, indices [0, poolSize).
func New(binaryPath string, poolSize int, respawnDelay time.Duration, log zerolog.Logger, opts ...Option) *Supervisor {
	slots := make([]*slot, poolSize)
	for i := range slots {
		slots[i] = newSlot(i)
	}
	s := &Supervisor{
		binaryPath:   binaryPath,
		respawnDelay: respawnDelay,
		killGrace:    500 * time.Millisecond,
		log:          log,
		slots:        slots,
		reapCh:       make(chan reapEvent, 64),
		respawnCh:    make(chan reapEvent, 64),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Size returns the number of managed slots.
func (s *Supervisor) Size() int { return len(s.slots) }

// SetStateChangeHook registers fn as the slot-selectability callback. It
// must be called before Start so the Dispatcher's mirror is wired before
// any slot transitions happen.
func (s *Supervisor) SetStateChangeHook(fn func(index int, selectable bool, generation uint64, pid int)) {
	s.onStateChange = fn
}

// Start pre-warms every slot sequentially with a short inter-spawn delay to
// smooth resource usage, then launches the reap and respawn
// facilities.
func (s *Supervisor) Start() error {
	go s.reapLoop()
	go s.respawnLoop()

	for i := range s.slots {
		if err := s.spawn(i); err != nil {
			return fmt.Errorf("slotpool: pre-warming slot %d: %w", i, err)
		}
		if s.respawnDelay > 0 && i < len(s.slots)-1 {
			time.Sleep(s.respawnDelay)
		}
	}
	return nil
}

// spawn forks+execs a fresh worker for index, transitioning
// Empty|Dead -> Starting -> Idle, bumping generation, and wiring a
// dedicated reap goroutine for this specific process.
func (s *Supervisor) spawn(index int) error {
	sl := s.slots[index]

	sl.mu.Lock()
	sl.state = Starting
	sl.mu.Unlock()

	proc, err := spawnWorkerProc(spawnOpts{binaryPath: s.binaryPath, index: index}, stderrSink{log: s.log, index: index})
	if err != nil {
		sl.mu.Lock()
		sl.state = Dead
		sl.mu.Unlock()
		return err
	}

	sl.mu.Lock()
	sl.proc = proc
	sl.pid = proc.cmd.Process.Pid
	sl.generation++
	sl.state = Idle
	sl.respawnQueued = false
	gen := sl.generation
	pid := sl.pid
	sl.mu.Unlock()

	go s.waitAndReap(index, gen, proc)

	s.log.Info().Int("slot", index).Int("pid", pid).Uint64("generation", gen).Msg("worker started")
	s.notify(index, true, gen, pid)
	return nil
}

// notify publishes a slot's selectability to the Dispatcher, standing in for
// the register_worker administrative frame: Supervisor and Dispatcher share
// a process, so the announcement is a direct call into the state-change
// hook rather than a socket write. The admin socket in frontsocket mirrors
// the same information for external introspection via Stats.
func (s *Supervisor) notify(index int, selectable bool, generation uint64, pid int) {
	if s.onStateChange != nil {
		s.onStateChange(index, selectable, generation, pid)
	}
}

func (s *Supervisor) waitAndReap(index int, generation uint64, proc *workerProc) {
	_ = proc.cmd.Wait()
	select {
	case s.reapCh <- reapEvent{index: index, generation: generation}:
	case <-s.done:
	}
}

func (s *Supervisor) reapLoop() {
	for {
		select {
		case ev := <-s.reapCh:
			s.handleReap(ev)
		case <-s.done:
			return
		}
	}
}

// handleReap marks a slot Dead when its process has actually exited and
// idempotently queues exactly one respawn per death, tolerating a spurious
// duplicate notification for a generation that has already moved on.
func (s *Supervisor) handleReap(ev reapEvent) {
	sl := s.slots[ev.index]

	sl.mu.Lock()
	if sl.generation != ev.generation {
		sl.mu.Unlock() // stale notification for an already-replaced process
		return
	}
	wasAlreadyDead := sl.state == Dead
	sl.state = Dead
	if sl.proc != nil {
		sl.proc.closePipes()
	}
	alreadyQueued := sl.respawnQueued
	sl.respawnQueued = true
	sl.mu.Unlock()

	s.notify(ev.index, false, ev.generation, 0)

	if !wasAlreadyDead {
		s.log.Warn().Int("slot", ev.index).Uint64("generation", ev.generation).Msg("worker exited")
	}
	if alreadyQueued {
		return
	}
	select {
	case s.respawnCh <- ev:
	case <-s.done:
	}
}

func (s *Supervisor) respawnLoop() {
	for {
		select {
		case ev := <-s.respawnCh:
			if s.respawnDelay > 0 {
				select {
				case <-time.After(s.respawnDelay):
				case <-s.done:
					return
				}
			}
			s.respawnOne(ev)
		case <-s.done:
			return
		}
	}
}

// respawnOne is the Dead -> Starting transition. It is
// idempotent: if the slot has already moved past the generation this event
// was raised for, it is a no-op.
func (s *Supervisor) respawnOne(ev reapEvent) {
	sl := s.slots[ev.index]

	sl.mu.Lock()
	stale := sl.generation != ev.generation || sl.state != Dead
	sl.mu.Unlock()
	if stale {
		return
	}

	if err := s.spawn(ev.index); err != nil {
		s.log.Error().Err(err).Int("slot", ev.index).Msg("respawn failed")
		// leave it Dead; the next external retry, or a future reap
		// event, will try again.
		return
	}
	if s.metrics != nil {
		s.metrics.Respawns.Inc()
	}
}

// Submit acquires the slot lock, writes the job,
// reads exactly one reply frame under deadline, and on any failure tears the
// one affected slot down without touching any other slot.
func (s *Supervisor) Submit(ctx context.Context, index int, job protocol.Job, deadline time.Time) (protocol.Reply, error) {
	if index < 0 || index >= len(s.slots) {
		return protocol.Reply{}, fmt.Errorf("slotpool: index %d out of range", index)
	}
	sl := s.slots[index]

	sl.mu.Lock()
	if sl.state != Idle {
		state := sl.state
		sl.mu.Unlock()
		if state == Dead {
			return protocol.Reply{}, faaserr.ErrWorkerFailed
		}
		return protocol.Reply{}, faaserr.ErrWorkerUnavailable
	}
	sl.state = Busy
	proc := sl.proc
	gen := sl.generation
	sl.mu.Unlock()

	s.notify(index, true, gen, sl.pid)

	if s.metrics != nil {
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()
	}
	start := time.Now()
	reply, err := s.doSubmit(ctx, proc, job, deadline)
	if s.metrics != nil {
		s.metrics.InvokeLatency.Observe(time.Since(start).Seconds())
	}

	sl.mu.Lock()
	if sl.generation != gen {
		// Slot already moved on (a respawn already happened
		// concurrently); nothing to reconcile.
		sl.mu.Unlock()
		if err != nil {
			return protocol.Reply{}, faaserr.ErrWorkerFailed
		}
		return reply, nil
	}

	if err != nil {
		sl.state = Draining
		sl.mu.Unlock()

		proc.terminate(s.killGrace)

		sl.mu.Lock()
		sl.state = Dead
		sl.mu.Unlock()
		s.notify(index, false, gen, 0)
		s.log.Warn().Int("slot", index).Err(err).Msg("submit failed, slot marked dead")
		return protocol.Reply{}, faaserr.ErrWorkerFailed
	}

	sl.state = Idle
	sl.mu.Unlock()
	s.notify(index, true, gen, sl.pid)
	return reply, nil
}

func (s *Supervisor) doSubmit(ctx context.Context, proc *workerProc, job protocol.Job, deadline time.Time) (protocol.Reply, error) {
	if err := proc.enc.WriteFrame(job); err != nil {
		return protocol.Reply{}, fmt.Errorf("write job: %w", err)
	}

	type result struct {
		reply protocol.Reply
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		var r protocol.Reply
		err := proc.dec.ReadFrame(&r)
		resCh <- result{reply: r, err: err}
	}()

	wait := time.Until(deadline)
	if wait <= 0 {
		wait = time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case res := <-resCh:
		if res.err != nil {
			return protocol.Reply{}, fmt.Errorf("read reply: %w", res.err)
		}
		return res.reply, nil
	case <-timer.C:
		return protocol.Reply{}, fmt.Errorf("submit deadline exceeded")
	case <-ctx.Done():
		return protocol.Reply{}, ctx.Err()
	}
}

// Selectable reports whether index is currently Idle or Busy.
func (s *Supervisor) Selectable(index int) bool {
	if index < 0 || index >= len(s.slots) {
		return false
	}
	return s.slots[index].selectable()
}

// Stats returns a point-in-time snapshot of every slot, for the Status
// administrative frame.
func (s *Supervisor) Stats() []protocol.WorkerStats {
	out := make([]protocol.WorkerStats, len(s.slots))
	for i, sl := range s.slots {
		state, pid, gen := sl.snapshot()
		out[i] = protocol.WorkerStats{Index: i, State: state.String(), PID: pid, Generation: gen}
	}
	return out
}

// Shutdown signals every worker, closes the reap/respawn facilities, and
// waits briefly for processes to exit.
func (s *Supervisor) Shutdown(wait time.Duration) {
	close(s.done)
	for _, sl := range s.slots {
		sl.mu.Lock()
		proc := sl.proc
		sl.state = Dead
		sl.mu.Unlock()
		if proc != nil {
			proc.terminate(0)
		}
	}
	time.Sleep(wait)
}

type stderrSink struct {
	log   zerolog.Logger
	index int
}

func (w stderrSink) Write(p []byte) (int, error) {
	w.log.Debug().Int("slot", w.index).Str("stream", "stderr").Msg(string(p))
	return len(p), nil
}
