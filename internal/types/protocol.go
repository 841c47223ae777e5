package types

import "encoding/json"

// CommandMode names the worker wire protocol's command kinds.
type CommandMode string

const (
	ModeInfo       CommandMode = "info"
	ModeScan       CommandMode = "scan"
	ModeUseProfile CommandMode = "useprofile"
	ModeSetPrefs   CommandMode = "setprefs"
	ModeSetID      CommandMode = "setid"
	ModeQuit       CommandMode = "quit"
	ModeWakeup     CommandMode = "wakeup"
)

// Command is one line of the worker protocol sent from tlscanary to a
// worker subprocess: exactly one JSON object, newline-terminated.
type Command struct {
	ID         string          `json:"id"`
	Mode       CommandMode     `json:"mode"`
	Host       string          `json:"host,omitempty"`
	Rank       int             `json:"rank,omitempty"`
	Timeout    int64           `json:"timeout_ms,omitempty"`
	GetInfo    bool            `json:"get_info,omitempty"`
	GetCerts   bool            `json:"get_certs,omitempty"`
	Profile    string          `json:"profile,omitempty"`
	Prefs      json.RawMessage `json:"prefs,omitempty"`
	WorkerID   string          `json:"worker_id,omitempty"`
}

// ResponseKind distinguishes the two responses a worker sends per command:
// an immediate acknowledgement, then exactly one final response.
type ResponseKind string

const (
	KindAck   ResponseKind = "ack"
	KindFinal ResponseKind = "final"
)

// Response is one line of the worker protocol read back from a worker.
type Response struct {
	ID      string       `json:"id"`
	Kind    ResponseKind `json:"kind"`
	Success bool         `json:"success"`
	Result  *ScanResult  `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// IsAck reports whether this is the command's acknowledgement rather than
// its final response.
func (r Response) IsAck() bool { return r.Kind == KindAck }

// HasContent reports whether the response carries a scan result.
func (r Response) HasContent() bool { return r.Result != nil }
