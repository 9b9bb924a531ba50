// Package protocol defines the JSON frame shapes carried over every hop of
// the dispatch fabric. Every struct round-trips through
// encoding/json directly; none of this package touches bytes itself — that
// is framing's job.
package protocol

// Envelope is decoded first to sniff a frame's discriminant "type" field
// before committing to one of the concrete structs below.
type Envelope struct {
	Type string `json:"type"`
}

// Deploy is sent caller -> Front Socket.
type Deploy struct {
	Type string `json:"type"` // "deploy"
	Name string `json:"name"`
	Lang string `json:"lang"`
	Code string `json:"code"`
}

// DeployReply is the Front Socket's reply to a Deploy frame.
type DeployReply struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Invoke is sent caller -> Front Socket -> Dispatcher.
type Invoke struct {
	Type    string `json:"type"` // "invoke"
	Fn      string `json:"fn"`
	Payload string `json:"payload"`
}

// Reply is the universal job result, Worker -> Supervisor -> Dispatcher ->
// Front Socket -> caller, unmodified across every hop (the Dispatcher MUST
// NOT rewrite Output).
type Reply struct {
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Job is sent Supervisor -> worker over the worker's stdin pipe. RequestID
// is a correlation id for log lines spanning Dispatch -> Submit -> worker;
// the original wire design's reply_to field routed a reply across a second
// socket hop, which the in-process collapse makes unnecessary, but a
// stable per-invocation id is still worth keeping for tracing one request
// through the logs of every component it touches.
type Job struct {
	Type      string `json:"type"` // "job"
	Fn        string `json:"fn"`
	Payload   string `json:"payload"`
	RequestID string `json:"request_id,omitempty"`
}

// Status is an administrative frame answered on either local socket with a
// snapshot of the dispatcher's selection view.
type Status struct {
	Type string `json:"type"` // "status"
}

// StatusReply answers a Status frame.
type StatusReply struct {
	OK      bool          `json:"ok"`
	Workers []WorkerStats `json:"workers"`
	Policy  string        `json:"policy"`
}

// WorkerStats describes one slot in a StatusReply.
type WorkerStats struct {
	Index      int    `json:"index"`
	State      string `json:"state"`
	PID        int    `json:"pid,omitempty"`
	Generation uint64 `json:"generation"`
	Load       int    `json:"load"`
}

// Find resolves a function name to its latest id without invoking it.
type Find struct {
	Type string `json:"type"` // "find"
	Name string `json:"name"`
}

// FindReply answers a Find frame.
type FindReply struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}
