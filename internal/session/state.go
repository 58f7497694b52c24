package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/satindergrewal/aaes/internal/enhance"
	"github.com/satindergrewal/aaes/internal/hearing"
)

// ErrStaleResponse is returned to the caller of a superseded upload. It is
// bookkeeping only and never becomes a notice.
var ErrStaleResponse = errors.New("stale response discarded")

// State is the session's position in the upload lifecycle.
type State int

const (
	Idle State = iota
	Uploading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Uploading:
		return "uploading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, Uploading, Ready, Failed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// EventKind says what produced an Event.
type EventKind string

const (
	KindReset     EventKind = "reset"
	KindParams    EventKind = "params"
	KindUpload    EventKind = "upload"
	KindCompleted EventKind = "completed"
)

// Event is emitted to subscribers after every change to the session.
type Event struct {
	Kind      EventKind          `json:"kind"`
	SessionID string             `json:"session_id"`
	Seq       uint64             `json:"seq"`
	State     State              `json:"state"`
	Previous  State              `json:"previous"`
	Source    string             `json:"source,omitempty"`
	Notice    string             `json:"notice,omitempty"`
	Result    *enhance.Result    `json:"result,omitempty"`
	Gain      hearing.TuningGain `json:"gain"`
	Audiogram hearing.Audiogram  `json:"audiogram"`
	Latency   time.Duration      `json:"latency,omitempty"`
	At        time.Time          `json:"at"`

	// Err is the request failure behind a Failed completion.
	Err error `json:"-"`
}

// noticeFor turns a request failure into the message shown to the user.
func noticeFor(err error) string {
	var netErr *enhance.NetworkError
	var svcErr *enhance.ServiceError
	switch {
	case errors.As(err, &svcErr):
		if svcErr.StatusCode != 0 {
			return fmt.Sprintf("The enhancement service rejected the file (HTTP %d): %s", svcErr.StatusCode, svcErr.Message)
		}
		return "The enhancement service sent an unusable reply: " + svcErr.Message
	case errors.As(err, &netErr):
		return "Could not reach the enhancement service. Check that it is running and try again."
	}
	return "Error uploading file: " + err.Error()
}
