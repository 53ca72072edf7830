package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/luma/pingpong/protocol"
)

var ErrNoValue = errors.New("Argument has no value")

// Call is an inbound call as seen by a Handler.
//
// When the peer asked for a reply, Args is padded with nil entries up to the
// arity the handler was bound with, so a handler can always index its declared
// positional arguments.
type Call struct {
	ID    protocol.CallID
	HasID bool

	// Args holds the raw JSON of each argument, nil means no value
	Args []json.RawMessage
}

// Len returns the number of positional arguments, padding included
func (c *Call) Len() int {
	return len(c.Args)
}

// Arg returns argument i for ad hoc inspection. Missing or unfilled arguments
// return a Result that does not exist.
func (c *Call) Arg(i int) gjson.Result {
	if i < 0 || i >= len(c.Args) || c.Args[i] == nil {
		return gjson.Result{}
	}

	return gjson.ParseBytes(c.Args[i])
}

// Decode unmarshals argument i into v.
func (c *Call) Decode(i int, v interface{}) error {
	if i < 0 || i >= len(c.Args) || c.Args[i] == nil {
		return fmt.Errorf("Failed to decode argument %d: %w", i, ErrNoValue)
	}

	if err := json.Unmarshal(c.Args[i], v); err != nil {
		return fmt.Errorf("Failed to decode argument %d: %w", i, err)
	}

	return nil
}

// Handler performs the operations a peer calls.
//
// ServeCall runs on the connection's read loop, so it must not block for long.
// r is nil for fire-and-forget calls. A handler may keep r and respond later
// from any goroutine. Returned errors and panics are logged, they never reach
// the peer.
type Handler interface {
	ServeCall(call *Call, r *Responder) error
}

type HandlerFunc func(call *Call, r *Responder) error

func (f HandlerFunc) ServeCall(call *Call, r *Responder) error {
	return f(call, r)
}
