package frontsocket

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"faasd/internal/framing"
	"faasd/internal/protocol"
	"faasd/internal/store"
)

type fakeDispatcher struct {
	reply protocol.Reply
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, job protocol.Job, deadline time.Time) (protocol.Reply, error) {
	return f.reply, f.err
}

func (f *fakeDispatcher) Stats() protocol.StatusReply {
	return protocol.StatusReply{OK: true, Policy: "round-robin"}
}

func newTestServer(t *testing.T, disp invoker) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "functions"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sockPath := filepath.Join(dir, "front.sock")
	srv := New(sockPath, st, disp, nil, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(cancel)

	waitForSocket(t, sockPath)
	return srv, sockPath
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	return conn
}

func TestDeployThenFindThenInvoke(t *testing.T) {
	disp := &fakeDispatcher{reply: protocol.Reply{OK: true, Output: "hello"}}
	_, path := newTestServer(t, disp)

	conn := dial(t, path)
	enc := framing.NewEncoder(conn)
	dec := framing.NewDecoder(conn)
	require.NoError(t, enc.WriteFrame(protocol.Deploy{Type: "deploy", Name: "greet", Lang: "static-asset", Code: "hi"}))
	var depReply protocol.DeployReply
	require.NoError(t, dec.ReadFrame(&depReply))
	require.True(t, depReply.OK)
	require.NotEmpty(t, depReply.ID)
	conn.Close()

	conn2 := dial(t, path)
	enc2 := framing.NewEncoder(conn2)
	dec2 := framing.NewDecoder(conn2)
	require.NoError(t, enc2.WriteFrame(protocol.Find{Type: "find", Name: "greet"}))
	var findReply protocol.FindReply
	require.NoError(t, dec2.ReadFrame(&findReply))
	require.True(t, findReply.OK)
	require.Equal(t, depReply.ID, findReply.ID)
	conn2.Close()

	conn3 := dial(t, path)
	enc3 := framing.NewEncoder(conn3)
	dec3 := framing.NewDecoder(conn3)
	require.NoError(t, enc3.WriteFrame(protocol.Invoke{Type: "invoke", Fn: "greet", Payload: "{}"}))
	var reply protocol.Reply
	require.NoError(t, dec3.ReadFrame(&reply))
	require.True(t, reply.OK)
	require.Equal(t, "hello", reply.Output)
	conn3.Close()
}

func TestInvokeUnknownFunction(t *testing.T) {
	disp := &fakeDispatcher{reply: protocol.Reply{OK: true}}
	_, path := newTestServer(t, disp)

	conn := dial(t, path)
	defer conn.Close()
	enc := framing.NewEncoder(conn)
	dec := framing.NewDecoder(conn)
	require.NoError(t, enc.WriteFrame(protocol.Invoke{Type: "invoke", Fn: "missing", Payload: "{}"}))

	var reply protocol.Reply
	require.NoError(t, dec.ReadFrame(&reply))
	require.False(t, reply.OK)
	require.NotEmpty(t, reply.Error)
}

func TestStatusFrame(t *testing.T) {
	disp := &fakeDispatcher{}
	_, path := newTestServer(t, disp)

	conn := dial(t, path)
	defer conn.Close()
	enc := framing.NewEncoder(conn)
	dec := framing.NewDecoder(conn)
	require.NoError(t, enc.WriteFrame(protocol.Status{Type: "status"}))

	var reply protocol.StatusReply
	require.NoError(t, dec.ReadFrame(&reply))
	require.True(t, reply.OK)
	require.Equal(t, "round-robin", reply.Policy)
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	disp := &fakeDispatcher{}
	_, path := newTestServer(t, disp)

	conn := dial(t, path)
	defer conn.Close()
	_, err := conn.Write([]byte("{\"type\":\"invoke\", oops\n"))
	require.NoError(t, err)

	dec := framing.NewDecoder(conn)
	var reply protocol.Reply
	require.NoError(t, dec.ReadFrame(&reply))
	require.False(t, reply.OK)
}
