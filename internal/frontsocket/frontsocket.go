// Package frontsocket implements the caller-facing UNIX domain socket
// endpoint. Each accepted connection is served by its own goroutine, reads
// exactly one frame, classifies it by its "type" discriminant, and replies
// with exactly one frame before closing.
package frontsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"faasd/internal/faaserr"
	"faasd/internal/framing"
	"faasd/internal/protocol"
	"faasd/internal/ratelimit"
	"faasd/internal/store"
)

// invoker is the Dispatcher surface the front socket depends on.
type invoker interface {
	Dispatch(ctx context.Context, job protocol.Job, deadline time.Time) (protocol.Reply, error)
	Stats() protocol.StatusReply
}

// Server accepts connections on a single UNIX socket path and routes each
// frame to the store, the dispatcher, or back as a status/find reply.
type Server struct {
	path           string
	store          *store.Store
	dispatcher     invoker
	limiter        *ratelimit.Limiter
	submitDeadline time.Duration
	log            zerolog.Logger

	ln net.Listener
}

// New builds a Server bound to path, not yet listening.
func New(path string, st *store.Store, disp invoker, lim *ratelimit.Limiter, submitDeadline time.Duration, log zerolog.Logger) *Server {
	return &Server{
		path:           path,
		store:          st,
		dispatcher:     disp,
		limiter:        lim,
		submitDeadline: submitDeadline,
		log:            log,
	}
}

// Serve unlinks any stale socket file, listens, and accepts connections
// until ctx is canceled. Each connection is handled on its own goroutine;
// backlog is the platform's listen(2) default, which comfortably covers
// expected caller concurrency.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("frontsocket: listen %s: %w", s.path, err)
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info().Str("path", s.path).Msg("front socket listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("frontsocket: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close unlinks the socket path, best-effort, on shutdown.
func (s *Server) Close() error {
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dec := framing.NewDecoder(conn)
	enc := framing.NewEncoder(conn)

	raw, err := dec.ReadRawFrame()
	if err != nil {
		if errors.Is(err, framing.ErrFrameTooLarge) {
			_ = enc.WriteFrame(protocol.Reply{OK: false, Error: faaserr.ErrFrameTooLarge.Error()})
		}
		return // otherwise the peer disconnected or sent nothing usable; nothing to reply to
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		_ = enc.WriteFrame(protocol.Reply{OK: false, Error: faaserr.ErrMalformedFrame.Error()})
		return
	}

	switch env.Type {
	case "deploy":
		s.handleDeploy(raw, enc)
	case "invoke":
		s.handleInvoke(ctx, conn, raw, enc)
	case "status":
		s.handleStatus(enc)
	case "find":
		s.handleFind(raw, enc)
	default:
		_ = enc.WriteFrame(protocol.Reply{OK: false, Error: faaserr.ErrMalformedFrame.Error()})
	}
}

func (s *Server) handleDeploy(raw []byte, enc *framing.Encoder) {
	var d protocol.Deploy
	if err := json.Unmarshal(raw, &d); err != nil {
		_ = enc.WriteFrame(protocol.DeployReply{OK: false, Error: faaserr.ErrMalformedFrame.Error()})
		return
	}
	id, err := s.store.Store(d.Name, d.Lang, d.Code)
	if err != nil {
		_ = enc.WriteFrame(protocol.DeployReply{OK: false, Error: err.Error()})
		return
	}
	_ = enc.WriteFrame(protocol.DeployReply{OK: true, ID: id})
}

func (s *Server) handleInvoke(ctx context.Context, conn net.Conn, raw []byte, enc *framing.Encoder) {
	var inv protocol.Invoke
	if err := json.Unmarshal(raw, &inv); err != nil {
		_ = enc.WriteFrame(protocol.Reply{OK: false, Error: faaserr.ErrMalformedFrame.Error()})
		return
	}

	if s.limiter != nil {
		key := conn.RemoteAddr().String()
		if key == "" {
			key = "unix-peer"
		}
		allowed, err := s.limiter.Allow(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limiter error, admitting request")
		} else if !allowed {
			_ = enc.WriteFrame(protocol.Reply{OK: false, Error: "rate limit exceeded"})
			return
		}
	}

	id, err := s.store.Resolve(inv.Fn)
	if err != nil {
		_ = enc.WriteFrame(protocol.Reply{OK: false, Error: faaserr.ErrFunctionNotFound.Error()})
		return
	}

	reqID := uuid.NewString()
	deadline := time.Now().Add(s.submitDeadline)
	reply, err := s.dispatcher.Dispatch(ctx, protocol.Job{Type: "job", Fn: id, Payload: inv.Payload, RequestID: reqID}, deadline)
	if err != nil {
		s.log.Warn().Str("request_id", reqID).Err(err).Msg("invoke failed")
		_ = enc.WriteFrame(protocol.Reply{OK: false, Error: err.Error()})
		return
	}
	_ = enc.WriteFrame(reply)
}

func (s *Server) handleStatus(enc *framing.Encoder) {
	_ = enc.WriteFrame(s.dispatcher.Stats())
}

func (s *Server) handleFind(raw []byte, enc *framing.Encoder) {
	var f protocol.Find
	if err := json.Unmarshal(raw, &f); err != nil {
		_ = enc.WriteFrame(protocol.FindReply{OK: false, Error: faaserr.ErrMalformedFrame.Error()})
		return
	}
	id, err := s.store.FindByName(f.Name)
	if err != nil {
		_ = enc.WriteFrame(protocol.FindReply{OK: false, Error: err.Error()})
		return
	}
	_ = enc.WriteFrame(protocol.FindReply{OK: true, ID: id})
}
