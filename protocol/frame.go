package protocol

import (
	"encoding/json"

	"github.com/tidwall/sjson"
)

// CallID correlates a call that expects a reply with its response.
type CallID uint64

type Kind int

const (
	KindCall Kind = iota
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Frame is one decoded protocol message. It is either a *CallFrame or a
// *ResponseFrame.
type Frame interface {
	Kind() Kind
	Encode() ([]byte, error)
}

const (
	fieldID     = "id"
	fieldArgs   = "ar"
	fieldCallID = "ci"
	fieldError  = "er"
	fieldResult = "re"
)

var emptyObject = []byte("{}")

// CallFrame asks the peer to run its handler. When HasID is false the call is
// fire-and-forget.
type CallFrame struct {
	ID    CallID
	HasID bool

	// Args is nil when the frame carries no `ar` field.
	Args []json.RawMessage
}

func (c *CallFrame) Kind() Kind {
	return KindCall
}

// Encode serialises the call as a single line, `id` first and then `ar`.
func (c *CallFrame) Encode() (b []byte, err error) {
	b = append([]byte(nil), emptyObject...)

	if c.HasID {
		if b, err = sjson.SetBytes(b, fieldID, uint64(c.ID)); err != nil {
			return nil, err
		}
	}

	if len(c.Args) > 0 {
		args, err := json.Marshal(c.Args)
		if err != nil {
			return nil, err
		}

		if b, err = sjson.SetRawBytes(b, fieldArgs, args); err != nil {
			return nil, err
		}
	}

	return append(b, Terminal), nil
}

// ResponseFrame carries the outcome of a call. HasError and a non nil Result
// are mutually exclusive, a frame with neither is an acknowledgement.
type ResponseFrame struct {
	ID CallID

	Error    string
	HasError bool

	// Result is nil when the response carries no value.
	Result json.RawMessage
}

func (r *ResponseFrame) Kind() Kind {
	return KindResponse
}

// Encode serialises the response as a single line, `ci` first and then either
// `er` or `re`.
func (r *ResponseFrame) Encode() (b []byte, err error) {
	b, err = sjson.SetBytes(append([]byte(nil), emptyObject...), fieldCallID, uint64(r.ID))
	if err != nil {
		return nil, err
	}

	switch {
	case r.HasError:
		b, err = sjson.SetBytes(b, fieldError, r.Error)
	case r.Result != nil:
		b, err = sjson.SetRawBytes(b, fieldResult, r.Result)
	}

	if err != nil {
		return nil, err
	}

	return append(b, Terminal), nil
}

var _ Frame = (*CallFrame)(nil)
var _ Frame = (*ResponseFrame)(nil)
