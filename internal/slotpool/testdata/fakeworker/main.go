// Command fakeworker is a test helper standing in for cmd/worker so
// internal/slotpool's tests can exercise real process spawn/pipe/reap
// behavior without a language runtime dependency. It
// understands a few magic payloads instead of running the sandbox:
//
//	"crash"  -> exits immediately with a non-zero status, mid-job
//	"hang"   -> never replies, to exercise submit deadlines
//	anything else -> echoed back as output
package main

import (
	"encoding/json"
	"io"
	"os"
)

type job struct {
	Type    string `json:"type"`
	Fn      string `json:"fn"`
	Payload string `json:"payload"`
}

type reply struct {
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func main() {
	dec := json.NewDecoder(os.Stdin)
	enc := json.NewEncoder(os.Stdout)

	for {
		var j job
		if err := dec.Decode(&j); err != nil {
			if err == io.EOF {
				return
			}
			os.Exit(1)
		}

		switch j.Payload {
		case "crash":
			os.Exit(7)
		case "hang":
			select {}
		default:
			_ = enc.Encode(reply{OK: true, Output: j.Payload})
		}
	}
}
