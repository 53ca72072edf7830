package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luma/pingpong/protocol"
)

var ErrAlreadyResponded = errors.New("Call has already been responded to")

// Responder replies to exactly one inbound call.
type Responder struct {
	id protocol.CallID
	s  *Session

	mu   sync.Mutex
	done bool
}

func newResponder(s *Session, id protocol.CallID) *Responder {
	return &Responder{id: id, s: s}
}

func (r *Responder) ID() protocol.CallID {
	return r.id
}

// Respond writes the response frame for the call. A non nil err is sent as
// its message and value is dropped. A nil value, or a nil json.RawMessage,
// sends a plain acknowledgement.
//
// Only the first successful call writes a frame, later ones return
// ErrAlreadyResponded.
func (r *Responder) Respond(err error, value interface{}) error {
	frame := &protocol.ResponseFrame{ID: r.id}

	if err != nil {
		frame.Error = err.Error()
		frame.HasError = true
	} else {
		result, merr := marshalValue(value)
		if merr != nil {
			return fmt.Errorf("Failed to encode response for call %d: %w", r.id, merr)
		}

		frame.Result = result
	}

	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return ErrAlreadyResponded
	}
	r.done = true
	r.mu.Unlock()

	return r.s.write(frame)
}

// marshalValue returns nil for values that should be omitted from the wire
func marshalValue(value interface{}) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case json.RawMessage:
		if v == nil {
			return nil, nil
		}

		if !json.Valid(v) {
			return nil, errors.New("raw value is not valid JSON")
		}

		return v, nil

	default:
		return json.Marshal(value)
	}
}
