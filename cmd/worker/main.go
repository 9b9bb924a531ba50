// Command worker is the per-slot child the supervisor forks and execs. It
// has two personalities behind one binary: its normal mode reads job
// frames from stdin and writes reply frames to stdout until EOF, and a
// hidden re-exec mode (argv[1] == sandbox.SandboxChildArg) that applies
// resource limits to itself and hands off to a shell for the
// native-sandboxed strategy. main() checks for the latter before anything
// else.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"faasd/internal/faaserr"
	"faasd/internal/framing"
	"faasd/internal/obslog"
	"faasd/internal/protocol"
	"faasd/internal/sandbox"
	"faasd/internal/store"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == sandbox.SandboxChildArg {
		if err := sandbox.SandboxChildMain(); err != nil {
			fmt.Fprintln(os.Stderr, "sandbox child:", err)
			os.Exit(1)
		}
		return
	}

	workerID := os.Getenv("WORKER_ID")
	log := obslog.New("worker", nil).With().Str("slot", workerID).Logger()

	storeRoot := os.Getenv("FAAS_STORE_ROOT")
	if storeRoot == "" {
		storeRoot = "functions"
	}
	st, err := store.Open(storeRoot, log)
	if err != nil {
		log.Error().Err(err).Msg("worker: opening store")
		os.Exit(1)
	}
	defer st.Close()

	box := sandbox.New()

	dec := framing.NewDecoder(os.Stdin)
	enc := framing.NewEncoder(os.Stdout)

	log.Info().Msg("worker ready")
	for {
		var job protocol.Job
		if err := dec.ReadFrame(&job); err != nil {
			if errors.Is(err, io.EOF) {
				log.Info().Msg("worker: stdin closed, exiting")
				return
			}
			// A malformed frame is the caller's fault, not a reason to die;
			// the supervisor holds its lock across exactly one job at a
			// time, so the next ReadFrame call picks up the next job.
			log.Warn().Err(err).Msg("worker: malformed job frame")
			_ = enc.WriteFrame(protocol.Reply{OK: false, Error: faaserr.ErrMalformedFrame.Error()})
			continue
		}

		log.Debug().Str("request_id", job.RequestID).Str("fn", job.Fn).Msg("worker: running job")
		reply := runJob(context.Background(), st, box, job)
		if err := enc.WriteFrame(reply); err != nil {
			log.Error().Err(err).Msg("worker: writing reply, exiting")
			return
		}
	}
}

func runJob(ctx context.Context, st *store.Store, box *sandbox.Sandbox, job protocol.Job) protocol.Reply {
	meta, err := st.LoadMeta(job.Fn)
	if err != nil {
		return protocol.Reply{OK: false, Error: faaserr.ErrFunctionNotFound.Error()}
	}
	code, err := st.LoadCode(job.Fn)
	if err != nil {
		return protocol.Reply{OK: false, Error: faaserr.ErrFunctionNotFound.Error()}
	}

	out, err := box.Run(ctx, meta, code, job.Payload)
	if err != nil {
		return protocol.Reply{OK: false, Error: err.Error()}
	}
	return protocol.Reply{OK: true, Output: string(out)}
}
