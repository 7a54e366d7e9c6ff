// Package streamfabric implements spec.md §4.6's single duplex message
// channel per authenticated client session: subscriptions to task output,
// log tails and interactive shells, all multiplexed over one
// github.com/gorilla/websocket connection.
package streamfabric

import "github.com/factorial-io/scotty-sub002/internal/model"

// inboundType discriminates a text-frame request's shape.
type inboundType string

const (
	inSubscribe   inboundType = "Subscribe"
	inUnsubscribe inboundType = "Unsubscribe"
	inOpenLog     inboundType = "OpenLog"
	inCloseLog    inboundType = "CloseLog"
	inOpenShell   inboundType = "OpenShell"
	inShellResize inboundType = "ShellResize"
	inCloseShell  inboundType = "CloseShell"
)

// inbound is the tagged JSON envelope for every text-frame client request.
// Every request carries a correlation id echoed back on the matching
// response or error (spec.md §4.6).
type inbound struct {
	Type        inboundType `json:"type"`
	Correlation string      `json:"correlation,omitempty"`

	// Subscribe / Unsubscribe
	TaskID  string `json:"task_id,omitempty"`
	FromSeq uint64 `json:"from_seq,omitempty"`

	// OpenLog / CloseLog
	App      string `json:"app,omitempty"`
	Service  string `json:"service,omitempty"`
	Follow   bool   `json:"follow,omitempty"`
	Tail     int    `json:"tail,omitempty"`
	StreamID string `json:"stream_id,omitempty"`

	// OpenShell / ShellResize / CloseShell
	TTY       bool   `json:"tty,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// outboundType discriminates a text-frame server event's shape.
type outboundType string

const (
	outTaskOutput  outboundType = "TaskOutput"
	outTaskState   outboundType = "TaskState"
	outLogLine     outboundType = "LogLine"
	outShellClosed outboundType = "ShellClosed"
	outOpened      outboundType = "Opened"
	outError       outboundType = "Error"
)

type outbound struct {
	Type        outboundType `json:"type"`
	Correlation string       `json:"correlation,omitempty"`

	TaskID string             `json:"task_id,omitempty"`
	Line   *model.OutputLine  `json:"line,omitempty"`
	State  model.TaskState    `json:"state,omitempty"`

	StreamID string `json:"stream_id,omitempty"`
	Text     string `json:"text,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Kind    string `json:"kind,omitempty"`
	Message string `json:"msg,omitempty"`
}
