// Package dispatcher implements the Dispatcher: for each job handed to it by
// the front socket it picks a worker slot under a configurable policy,
// forwards the job to the Supervisor in-process, and returns
// the worker's reply verbatim.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"faasd/internal/faaserr"
	"faasd/internal/metrics"
	"faasd/internal/protocol"
)

// submitter is the Supervisor surface the Dispatcher depends on — narrowed
// to an interface so dispatcher tests can drive a fake pool without
// spawning real processes.
type submitter interface {
	Submit(ctx context.Context, index int, job protocol.Job, deadline time.Time) (protocol.Reply, error)
	Selectable(index int) bool
	Size() int
	Stats() []protocol.WorkerStats
}

// Dispatcher ties a selector policy to a Supervisor.
type Dispatcher struct {
	sup     submitter
	sel     selector
	retries int
	log     zerolog.Logger

	mu     sync.RWMutex
	mirror []bool // Dispatcher's own selectable mirror, kept current by the Supervisor's state-change hook

	metrics *metrics.Registry
}

// SetMetrics wires a metrics registry so selections and dispatch errors are
// observable; nil (the default) disables instrumentation.
func (d *Dispatcher) SetMetrics(reg *metrics.Registry) {
	d.metrics = reg
}

// New constructs a Dispatcher for the given policy name and retry budget R
// (total attempts = R+1). An unrecognized policy is a startup error.
func New(policyName string, sup submitter, retries int, log zerolog.Logger) (*Dispatcher, error) {
	sel, err := newSelector(policyName, sup.Size())
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		sup:     sup,
		sel:     sel,
		retries: retries,
		log:     log,
		mirror:  make([]bool, sup.Size()),
	}, nil
}

// OnStateChange is wired as the Supervisor's state-change hook so the
// Dispatcher's selectable mirror never needs a socket round trip to stay
// current.
func (d *Dispatcher) OnStateChange(index int, selectable bool, generation uint64, pid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index >= 0 && index < len(d.mirror) {
		d.mirror[index] = selectable
	}
}

func (d *Dispatcher) selectableSnapshot() []bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]bool, len(d.mirror))
	copy(out, d.mirror)
	return out
}

// Policy returns the configured policy's name.
func (d *Dispatcher) Policy() string { return d.sel.name() }

// Dispatch selects a worker and submits job to it, retrying up to the
// configured retry budget on WorkerUnavailable/WorkerFailed, excluding
// slots already tried this invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, job protocol.Job, deadline time.Time) (protocol.Reply, error) {
	tried := make(map[int]bool)

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		selectable := d.selectableSnapshot()
		idx, ok := d.sel.next(selectable, tried)
		if !ok {
			if lastErr != nil {
				return protocol.Reply{}, lastErr
			}
			return protocol.Reply{}, faaserr.ErrNoWorker
		}
		tried[idx] = true
		if d.metrics != nil {
			d.metrics.Selections.WithLabelValues(d.sel.name()).Inc()
		}

		reply, err := d.sup.Submit(ctx, idx, job, deadline)
		succeeded := err == nil
		d.sel.onResult(idx, succeeded)

		if succeeded {
			return reply, nil
		}

		lastErr = err
		if d.metrics != nil {
			d.metrics.DispatchErrors.WithLabelValues(errorReason(err)).Inc()
		}
		if !errors.Is(err, faaserr.ErrWorkerUnavailable) && !errors.Is(err, faaserr.ErrWorkerFailed) {
			return protocol.Reply{}, err
		}
		d.log.Warn().Int("slot", idx).Str("request_id", job.RequestID).Err(err).Int("attempt", attempt).Msg("dispatch attempt failed, retrying")
	}
	return protocol.Reply{}, lastErr
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, faaserr.ErrWorkerUnavailable):
		return "worker_unavailable"
	case errors.Is(err, faaserr.ErrWorkerFailed):
		return "worker_failed"
	case errors.Is(err, faaserr.ErrNoWorker):
		return "no_worker"
	default:
		return "other"
	}
}

// Stats returns the Supervisor's slot snapshot annotated with the
// Weighted policy's in-flight load vector, if that policy is active, for
// the "status" administrative frame.
func (d *Dispatcher) Stats() protocol.StatusReply {
	workers := d.sup.Stats()
	if w, ok := d.sel.(*weighted); ok {
		load := w.snapshot()
		for i := range workers {
			if i < len(load) {
				workers[i].Load = load[i]
			}
		}
	}
	return protocol.StatusReply{OK: true, Workers: workers, Policy: d.sel.name()}
}
