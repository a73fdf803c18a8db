package subscription

import (
	"encoding/json"

	telemetry "telemetry-ws/internal/telemetry/domain"
)

// Type is the kind of data a subscription follows.
type Type string

const (
	TypeAttributes Type = "ATTRIBUTES"
	TypeTimeseries Type = "TIMESERIES"
)

// State is a registered subscription. KeyStates maps each tracked key to the timestamp
// of the last sample the client has seen; 0 means nothing seen yet.
type State struct {
	SessionID string
	CmdID     int
	DeviceID  string
	Type      Type
	AllKeys   bool
	KeyStates map[string]int64
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	keyStates := make(map[string]int64, len(s.KeyStates))
	for key, ts := range s.KeyStates {
		keyStates[key] = ts
	}
	s.KeyStates = keyStates
	return s
}

// ErrorCode is the closed set of reply error codes.
type ErrorCode int

const (
	NoError       ErrorCode = 0
	InternalError ErrorCode = 1
	BadRequest    ErrorCode = 2
	Unauthorized  ErrorCode = 3
)

// DefaultMsg returns the message used when no specific one applies.
func (c ErrorCode) DefaultMsg() string {
	switch c {
	case InternalError:
		return "Internal Server error!"
	case BadRequest:
		return "Bad request"
	case Unauthorized:
		return "Unauthorized"
	default:
		return ""
	}
}

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case BadRequest:
		return "BAD_REQUEST"
	case Unauthorized:
		return "UNAUTHORIZED"
	default:
		return "UNKNOWN"
	}
}

// Update is a reply to a client command, or a live delivery for a subscription.
// Either Data or ErrorCode/ErrorMsg is populated, never both.
type Update struct {
	CmdID     int
	ErrorCode ErrorCode
	ErrorMsg  string
	Data      []telemetry.TsKvEntry
}

// NewDataUpdate builds a successful update.
func NewDataUpdate(cmdID int, data []telemetry.TsKvEntry) Update {
	if data == nil {
		data = []telemetry.TsKvEntry{}
	}
	return Update{CmdID: cmdID, Data: data}
}

// NewErrorUpdate builds an error update. An empty msg falls back to the code default.
func NewErrorUpdate(cmdID int, code ErrorCode, msg string) Update {
	if msg == "" {
		msg = code.DefaultMsg()
	}
	return Update{CmdID: cmdID, ErrorCode: code, ErrorMsg: msg}
}

// IsError reports whether the update carries an error.
func (u Update) IsError() bool {
	return u.ErrorCode != NoError
}

type dataPoint struct {
	Key   string `json:"key"`
	TS    int64  `json:"ts"`
	Value any    `json:"value"`
}

type updateJSON struct {
	CmdID     int          `json:"cmdId"`
	ErrorCode *ErrorCode   `json:"errorCode,omitempty"`
	ErrorMsg  *string      `json:"errorMsg,omitempty"`
	Data      *[]dataPoint `json:"data,omitempty"`
}

// MarshalJSON renders {cmdId, data} or {cmdId, errorCode, errorMsg}.
func (u Update) MarshalJSON() ([]byte, error) {
	out := updateJSON{CmdID: u.CmdID}
	if u.IsError() {
		code := u.ErrorCode
		msg := u.ErrorMsg
		out.ErrorCode = &code
		out.ErrorMsg = &msg
		return json.Marshal(out)
	}
	points := make([]dataPoint, 0, len(u.Data))
	for _, entry := range u.Data {
		points = append(points, dataPoint{Key: entry.Key, TS: entry.TS, Value: entry.Value()})
	}
	out.Data = &points
	return json.Marshal(out)
}
