// Package presenter turns the independent command streams of one
// remote characteristic (connect/disconnect, read, write, notify and
// indicate control) into a single ordered stream of user-visible
// events, enforcing the protocol's exclusivity and lifecycle rules:
// one session at a time, at most one active subscription mode, and an
// outer cycle that restarts after every termination.
package presenter

import (
	"encoding/json"
	"fmt"
)

// OperationType tags an event with its originating operation.
type OperationType int

const (
	OpRead OperationType = iota
	OpWrite
	OpNotify
	OpIndicate
)

func (t OperationType) String() string {
	switch t {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpNotify:
		return "notify"
	case OpIndicate:
		return "indicate"
	default:
		return fmt.Sprintf("operation(%d)", int(t))
	}
}

// Event is the closed set of values the presenter emits. Consumers
// switch exhaustively over InfoEvent, ResultEvent, ErrorEvent and
// CompatibilityModeEvent.
type Event interface {
	presenterEvent()
}

// InfoEvent carries session-level information: connection
// established, connection or discovery failures.
type InfoEvent struct {
	Message string
}

// ResultEvent carries one successful operation outcome.
type ResultEvent struct {
	Op   OperationType
	Data []byte
}

// ErrorEvent reports a failed operation, scoped to its lane.
type ErrorEvent struct {
	Op  OperationType
	Err error
}

// CompatibilityModeEvent announces, once per session, whether
// compatibility-mode notification setup will be used.
type CompatibilityModeEvent struct {
	Compat bool
}

func (InfoEvent) presenterEvent()              {}
func (ResultEvent) presenterEvent()            {}
func (ErrorEvent) presenterEvent()             {}
func (CompatibilityModeEvent) presenterEvent() {}

func (e InfoEvent) String() string {
	return "INFO: " + e.Message
}

func (e ResultEvent) String() string {
	return fmt.Sprintf("RESULT %s: % X", e.Op, e.Data)
}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("ERROR %s: %v", e.Op, e.Err)
}

func (e CompatibilityModeEvent) String() string {
	return fmt.Sprintf("COMPAT MODE: %t", e.Compat)
}

func (e InfoEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{"info", e.Message})
}

func (e ResultEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Op   string `json:"op"`
		Data []byte `json:"data"`
	}{"result", e.Op.String(), e.Data})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Op    string `json:"op"`
		Error string `json:"error"`
	}{"error", e.Op.String(), e.Err.Error()})
}

func (e CompatibilityModeEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Compat bool   `json:"compat"`
	}{"compatibility_mode", e.Compat})
}

// EventToJSON renders any presenter event as a JSON document.
func EventToJSON(e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	return string(data), nil
}
