package framing

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type pingFrame struct {
	Type string `json:"type"`
	N    int    `json:"n"`
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteFrame(pingFrame{Type: "ping", N: 7}))

	dec := NewDecoder(&buf)
	var got pingFrame
	require.NoError(t, dec.ReadFrame(&got))
	require.Equal(t, pingFrame{Type: "ping", N: 7}, got)
}

func TestReadFrameEOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	var got pingFrame
	require.ErrorIs(t, dec.ReadFrame(&got), io.EOF)
}

func TestTrailingFrameWithoutNewlineIsDiscarded(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"invoke"`))
	var got pingFrame
	err := dec.ReadFrame(&got)
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameExactlyLineMaxSucceeds(t *testing.T) {
	// account for the JSON envelope around the padding field.
	const overhead = len(`{"type":"pad","n":0,"pad":""}`)
	pad := strings.Repeat("a", LineMax-overhead)

	type padded struct {
		Type string `json:"type"`
		N    int    `json:"n"`
		Pad  string `json:"pad"`
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteFrame(padded{Type: "pad", Pad: pad}))
	require.LessOrEqual(t, buf.Len()-1, LineMax+1)

	dec := NewDecoder(&buf)
	var got padded
	require.NoError(t, dec.ReadFrame(&got))
	require.Equal(t, pad, got.Pad)
}

func TestFrameOverLineMaxFails(t *testing.T) {
	pad := strings.Repeat("a", LineMax+256)
	type padded struct {
		Pad string `json:"pad"`
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	err := enc.WriteFrame(padded{Pad: pad})
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestMalformedFrameIsReportedNotFatal(t *testing.T) {
	dec := NewDecoder(strings.NewReader("not json\n" + `{"type":"ping","n":1}` + "\n"))
	var got pingFrame
	err := dec.ReadFrame(&got)
	require.Error(t, err)

	// The decoder itself is still usable for the next line.
	err = dec.ReadFrame(&got)
	require.NoError(t, err)
	require.Equal(t, 1, got.N)
}

func TestZeroBytePayloadIsValid(t *testing.T) {
	type job struct {
		Payload string `json:"payload"`
	}
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteFrame(job{Payload: ""}))

	dec := NewDecoder(&buf)
	var got job
	require.NoError(t, dec.ReadFrame(&got))
	require.Equal(t, "", got.Payload)
}
