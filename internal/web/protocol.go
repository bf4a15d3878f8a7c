package web

import "github.com/MrWong99/rolecall/internal/roleplay"

// Message types sent by the browser.
const (
	msgStart        = "start"
	msgRecord       = "record"
	msgStop         = "stop"
	msgPause        = "pause"
	msgResume       = "resume"
	msgExit         = "exit"
	msgCapabilities = "capabilities"
	msgSpoken       = "spoken"
	msgTranscript   = "transcript"
	msgListenError  = "listen_error"
)

// Message types sent by the server.
const (
	msgState     = "state"
	msgSpeak     = "speak"
	msgListen    = "listen"
	msgCancel    = "cancel"
	msgCompleted = "completed"
	msgError     = "error"
)

// clientMessage is any JSON text frame received from the browser.
type clientMessage struct {
	Type string `json:"type"`

	// start
	ScriptID string `json:"script_id,omitempty"`
	Role     string `json:"role,omitempty"`

	// capabilities; a missing field means "available".
	Speech      *bool `json:"speech,omitempty"`
	Recognition *bool `json:"recognition,omitempty"`

	// spoken, transcript, listen_error
	ID         string  `json:"id,omitempty"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// serverMessage is any JSON text frame sent to the browser.
type serverMessage struct {
	Type string `json:"type"`

	// state
	Event    roleplay.EventKind `json:"event,omitempty"`
	Turn     *int               `json:"turn,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Snapshot *roleplay.Snapshot `json:"snapshot,omitempty"`

	// completed
	Summary *roleplay.Summary `json:"summary,omitempty"`

	// speak, listen, cancel
	ID      string  `json:"id,omitempty"`
	Text    string  `json:"text,omitempty"`
	Speaker string  `json:"speaker,omitempty"`
	Voice   string  `json:"voice,omitempty"`
	Locale  string  `json:"locale,omitempty"`
	Rate    float64 `json:"rate,omitempty"`
	Hint    string  `json:"hint,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}
