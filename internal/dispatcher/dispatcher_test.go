package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"faasd/internal/faaserr"
	"faasd/internal/protocol"
)

// fakeSupervisor is a test double standing in for slotpool.Supervisor so
// dispatcher tests don't need to fork real worker processes.
type fakeSupervisor struct {
	mu          sync.Mutex
	size        int
	selectable  []bool
	submitCount []int
	inFlight    []int32
	failIndex   map[int]bool
}

func newFakeSupervisor(size int) *fakeSupervisor {
	sel := make([]bool, size)
	for i := range sel {
		sel[i] = true
	}
	return &fakeSupervisor{
		size:        size,
		selectable:  sel,
		submitCount: make([]int, size),
		inFlight:    make([]int32, size),
		failIndex:   make(map[int]bool),
	}
}

func (f *fakeSupervisor) Size() int { return f.size }

func (f *fakeSupervisor) Selectable(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectable[i]
}

func (f *fakeSupervisor) Stats() []protocol.WorkerStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.WorkerStats, f.size)
	for i := range out {
		out[i] = protocol.WorkerStats{Index: i}
	}
	return out
}

func (f *fakeSupervisor) Submit(ctx context.Context, index int, job protocol.Job, deadline time.Time) (protocol.Reply, error) {
	if atomic.AddInt32(&f.inFlight[index], 1) > 1 {
		atomic.AddInt32(&f.inFlight[index], -1)
		panic("more than one job in flight for the same slot")
	}
	defer atomic.AddInt32(&f.inFlight[index], -1)

	f.mu.Lock()
	f.submitCount[index]++
	shouldFail := f.failIndex[index]
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	if shouldFail {
		return protocol.Reply{}, faaserr.ErrWorkerFailed
	}
	return protocol.Reply{OK: true, Output: "ok"}, nil
}

func newTestDispatcher(t *testing.T, policy string, size, retries int) (*Dispatcher, *fakeSupervisor) {
	t.Helper()
	sup := newFakeSupervisor(size)
	d, err := New(policy, sup, retries, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < size; i++ {
		d.OnStateChange(i, true, 1, 1000+i)
	}
	return d, sup
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	sup := newFakeSupervisor(2)
	_, err := New("fifo-lottery", sup, 0, zerolog.Nop())
	require.Error(t, err)
}

// P4: round-robin fairness — k invocations against a pool of n idle
// workers hit each worker exactly k/n times.
func TestRoundRobinFairness(t *testing.T) {
	const workers = 4
	const perWorker = 25
	d, sup := newTestDispatcher(t, PolicyRoundRobin, workers, 0)

	for i := 0; i < workers*perWorker; i++ {
		reply, err := d.Dispatch(context.Background(), protocol.Job{Type: "job", Fn: "f"}, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.True(t, reply.OK)
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()
	for i, count := range sup.submitCount {
		require.Equalf(t, perWorker, count, "worker %d submit count", i)
	}
}

// RR's cursor only advances on success: a dead slot never consumes a turn
// that would otherwise go to a live one.
func TestRoundRobinSkipsNonSelectableWithoutAdvancing(t *testing.T) {
	d, sup := newTestDispatcher(t, PolicyRoundRobin, 3, 1)
	d.OnStateChange(1, false, 1, 0) // slot 1 is dead

	for i := 0; i < 6; i++ {
		_, err := d.Dispatch(context.Background(), protocol.Job{Type: "job"}, time.Now().Add(time.Second))
		require.NoError(t, err)
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()
	require.Equal(t, 0, sup.submitCount[1])
	require.Equal(t, 3, sup.submitCount[0])
	require.Equal(t, 3, sup.submitCount[2])
}

// P2: Submit is never called concurrently for the same slot twice — the
// fake panics if it observes that, so a clean run proves no overlap.
func TestFirstAvailableNoOverlapUnderConcurrency(t *testing.T) {
	d, _ := newTestDispatcher(t, PolicyFirstAvailable, 3, 0)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), protocol.Job{Type: "job"}, time.Now().Add(time.Second))
		}()
	}
	wg.Wait()
}

// Weighted sends new work to the least-loaded slot and its load gauge
// settles back to zero once every reply has landed.
func TestWeightedPrefersLeastLoadedAndSettles(t *testing.T) {
	d, sup := newTestDispatcher(t, PolicyWeighted, 2, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), protocol.Job{Type: "job"}, time.Now().Add(time.Second))
		}()
	}
	wg.Wait()

	w := d.sel.(*weighted)
	for _, load := range w.snapshot() {
		require.Equal(t, 0, load)
	}

	total := sup.submitCount[0] + sup.submitCount[1]
	require.Equal(t, 10, total)
}

// Dispatch retries a WorkerFailed submission on a different slot within
// the retry budget, and the retry's success is returned to the caller.
func TestDispatchRetriesOnFailure(t *testing.T) {
	d, sup := newTestDispatcher(t, PolicyFirstAvailable, 2, 1)
	sup.mu.Lock()
	sup.failIndex[0] = true
	sup.mu.Unlock()

	reply, err := d.Dispatch(context.Background(), protocol.Job{Type: "job"}, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.True(t, reply.OK)

	sup.mu.Lock()
	defer sup.mu.Unlock()
	require.Equal(t, 1, sup.submitCount[0])
	require.Equal(t, 1, sup.submitCount[1])
}

func TestDispatchReturnsErrNoWorkerWhenNoneSelectable(t *testing.T) {
	d, _ := newTestDispatcher(t, PolicyRoundRobin, 2, 0)
	d.OnStateChange(0, false, 1, 0)
	d.OnStateChange(1, false, 1, 0)

	_, err := d.Dispatch(context.Background(), protocol.Job{Type: "job"}, time.Now().Add(time.Second))
	require.ErrorIs(t, err, faaserr.ErrNoWorker)
}
