// Command loadgen fires concurrent invoke frames at the Front Socket and
// prints a colorized pass/fail/latency summary. It is the harness used to
// exercise round-robin fairness and crash-recovery against a live process
// tree rather than only in unit tests.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"faasd/internal/framing"
	"faasd/internal/protocol"
)

type result struct {
	ok      bool
	latency time.Duration
}

func fire(frontSocket, fn, payload string, timeout time.Duration) result {
	start := time.Now()
	conn, err := net.DialTimeout("unix", frontSocket, timeout)
	if err != nil {
		return result{ok: false}
	}
	defer conn.Close()

	enc := framing.NewEncoder(conn)
	dec := framing.NewDecoder(conn)
	if err := enc.WriteFrame(protocol.Invoke{Type: "invoke", Fn: fn, Payload: payload}); err != nil {
		return result{ok: false}
	}

	var reply protocol.Reply
	if err := dec.ReadFrame(&reply); err != nil {
		return result{ok: false, latency: time.Since(start)}
	}
	return result{ok: reply.OK, latency: time.Since(start)}
}

func run(frontSocket, fn, payload string, n, concurrency int, timeout time.Duration) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)

	results := make(chan result, n)
	sem := semaphore.NewWeighted(int64(concurrency))
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		_ = sem.Acquire(ctx, 1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results <- fire(frontSocket, fn, payload, timeout)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var ok, fail int64
	var totalLatency time.Duration
	var maxLatency time.Duration
	for r := range results {
		if r.ok {
			atomic.AddInt64(&ok, 1)
		} else {
			atomic.AddInt64(&fail, 1)
		}
		totalLatency += r.latency
		if r.latency > maxLatency {
			maxLatency = r.latency
		}
	}

	cyan.Printf("fired %d invocations at %q (concurrency %d)\n", n, fn, concurrency)
	green.Printf("  ok:   %d\n", ok)
	if fail > 0 {
		red.Printf("  fail: %d\n", fail)
	} else {
		fmt.Println("  fail: 0")
	}
	if n > 0 {
		fmt.Printf("  mean latency: %s, max latency: %s\n", totalLatency/time.Duration(n), maxLatency)
	}
}

func main() {
	var (
		frontSocket string
		fn          string
		payload     string
		n           int
		concurrency int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Fires concurrent invocations at the dispatch fabric's front socket",
		Run: func(cmd *cobra.Command, args []string) {
			run(frontSocket, fn, payload, n, concurrency, timeout)
		},
	}

	cmd.Flags().StringVar(&frontSocket, "front-socket", "/tmp/faas_server.sock", "UNIX socket path of the front socket")
	cmd.Flags().StringVar(&fn, "fn", "", "function name or id to invoke")
	cmd.Flags().StringVar(&payload, "payload", "{}", "payload string sent with each invocation")
	cmd.Flags().IntVar(&n, "count", 100, "total number of invocations to fire")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "maximum concurrent in-flight invocations")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-invocation dial+round-trip timeout")
	_ = cmd.MarkFlagRequired("fn")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loadgen:", err)
		os.Exit(1)
	}
}
