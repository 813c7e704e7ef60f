package realtime

import (
	"encoding/json"
	"errors"
)

// Wire shapes, one JSON object per websocket message.
//
// Clients submit either an event batch or a command; the server pushes
// moderation flags, history replays, per-canvas permission strings, and
// generic advisories. Event payloads are opaque to the server: it validates
// JSON well-formedness and nothing else, and rebroadcasts the client's raw
// bytes verbatim.

// EventMessage is both the client event submission and the server's history
// replay shape.
type EventMessage struct {
	CanvasID string            `json:"canvasId"`
	Events   []json.RawMessage `json:"eventsForCanvas"`
}

// Command is a client request concerning one canvas.
type Command struct {
	Command  string `json:"command"`
	CanvasID string `json:"canvasId"`
}

const (
	CmdRegister        = "registerForCanvas"
	CmdUnregister      = "unregisterForCanvas"
	CmdToggleModerated = "toggleModerated"
)

// ModeratedNotice announces the current moderation flag of a canvas.
type ModeratedNotice struct {
	CanvasID  string `json:"canvasId"`
	Moderated bool   `json:"moderated"`
}

// PermissionNotice tells one user their own permission on a canvas.
// An empty string communicates "no access".
type PermissionNotice struct {
	CanvasID       string `json:"canvasId"`
	YourPermission string `json:"yourPermission"`
}

// Advisory is a generic human-readable server notification.
type Advisory struct {
	Notify string `json:"notify"`
}

var errUnknownMessage = errors.New("unknown message shape")

// inbound is the union decode target for a client message. Exactly one of the two
// interpretations applies: a non-empty Command is a command, otherwise a
// present eventsForCanvas array is an event submission.
type inbound struct {
	CanvasID string            `json:"canvasId"`
	Events   []json.RawMessage `json:"eventsForCanvas"`
	Command  string            `json:"command"`
}

func decodeInbound(raw []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return inbound{}, err
	}
	if in.Command == "" && in.Events == nil {
		return inbound{}, errUnknownMessage
	}
	return in, nil
}

func encodeModerated(canvasID string, moderated bool) []byte {
	b, _ := json.Marshal(ModeratedNotice{CanvasID: canvasID, Moderated: moderated})
	return b
}

func encodeHistory(canvasID string, events []json.RawMessage) []byte {
	if events == nil {
		events = []json.RawMessage{}
	}
	b, _ := json.Marshal(EventMessage{CanvasID: canvasID, Events: events})
	return b
}

func encodePermission(canvasID, permission string) []byte {
	b, _ := json.Marshal(PermissionNotice{CanvasID: canvasID, YourPermission: permission})
	return b
}

func encodeAdvisory(msg string) []byte {
	b, _ := json.Marshal(Advisory{Notify: msg})
	return b
}
