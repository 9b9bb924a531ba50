// Command gateway is the HTTP-facing front end: a thin chi server that
// turns POST requests into deploy/invoke frames against the Front Socket
// and the JSON reply back into an HTTP response. It sits outside the
// dispatch fabric's own correctness boundary, but it is the thing a real
// deployment puts in front of it.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"faasd/internal/framing"
	"faasd/internal/obslog"
	"faasd/internal/protocol"
)

type gateway struct {
	frontSocket string
	dialTimeout time.Duration
}

func (g *gateway) roundTrip(req any, reply any) error {
	conn, err := net.DialTimeout("unix", g.frontSocket, g.dialTimeout)
	if err != nil {
		return fmt.Errorf("gateway: dialing front socket: %w", err)
	}
	defer conn.Close()

	enc := framing.NewEncoder(conn)
	dec := framing.NewDecoder(conn)
	if err := enc.WriteFrame(req); err != nil {
		return fmt.Errorf("gateway: writing frame: %w", err)
	}
	return dec.ReadFrame(reply)
}

func (g *gateway) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Lang string `json:"lang"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	var reply protocol.DeployReply
	if err := g.roundTrip(protocol.Deploy{Type: "deploy", Name: body.Name, Lang: body.Lang, Code: body.Code}, &reply); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, reply)
}

func (g *gateway) handleInvoke(w http.ResponseWriter, r *http.Request) {
	fn := chi.URLParam(r, "fn")
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	var reply protocol.Reply
	if err := g.roundTrip(protocol.Invoke{Type: "invoke", Fn: fn, Payload: string(payload)}, &reply); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !reply.OK {
		http.Error(w, reply.Error, http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, reply)
}

func (g *gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	var reply protocol.StatusReply
	if err := g.roundTrip(protocol.Status{Type: "status"}, &reply); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, reply)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newRouter(g *gateway) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/status", g.handleStatus)
	r.Post("/functions", g.handleDeploy)
	r.Post("/functions/{fn}/invoke", g.handleInvoke)

	return r
}

func main() {
	var addr, frontSocket string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "HTTP front end for the dispatch fabric's front socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := obslog.NewConsole("gateway")
			g := &gateway{frontSocket: frontSocket, dialTimeout: 2 * time.Second}
			log.Info().Str("addr", addr).Str("front_socket", frontSocket).Msg("gateway listening")
			return http.ListenAndServe(addr, newRouter(g))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&frontSocket, "front-socket", "/tmp/faas_server.sock", "UNIX socket path of the front socket")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}
