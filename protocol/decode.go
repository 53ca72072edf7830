package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrMalformedFrame = errors.New("Frame is malformed")
	ErrFrameTooLarge  = errors.New("Frame exceeds the maximum buffered size")

	// Terminal ends every frame on the wire
	Terminal byte = '\n'
)

// DecodeFrame parses a single line, without its terminator, into either a
// *CallFrame or a *ResponseFrame.
//
// The presence of `ci` is what discriminates a response from a call. Any
// failure wraps ErrMalformedFrame and quotes the offending line.
func DecodeFrame(line []byte) (Frame, error) {
	if !gjson.ValidBytes(line) {
		return nil, malformed(line, "invalid JSON")
	}

	msg := gjson.ParseBytes(line)
	if !msg.IsObject() {
		return nil, malformed(line, "not an object")
	}

	if ci := msg.Get(fieldCallID); ci.Exists() {
		return decodeResponse(line, ci, msg)
	}

	return decodeCall(line, msg)
}

func decodeResponse(line []byte, ci, msg gjson.Result) (*ResponseFrame, error) {
	id, ok := callID(ci)
	if !ok {
		return nil, malformed(line, "ci is not a call ID")
	}

	resp := &ResponseFrame{ID: id}

	if er := msg.Get(fieldError); er.Exists() {
		if er.Type != gjson.String {
			return nil, malformed(line, "er is not a string")
		}

		resp.Error = er.String()
		resp.HasError = true
		return resp, nil
	}

	if re := msg.Get(fieldResult); re.Exists() && re.Type != gjson.Null {
		resp.Result = json.RawMessage(re.Raw)
	}

	return resp, nil
}

func decodeCall(line []byte, msg gjson.Result) (*CallFrame, error) {
	call := &CallFrame{}

	if id := msg.Get(fieldID); id.Exists() {
		v, ok := callID(id)
		if !ok {
			return nil, malformed(line, "id is not a call ID")
		}

		call.ID = v
		call.HasID = true
	}

	if ar := msg.Get(fieldArgs); ar.Exists() {
		if !ar.IsArray() {
			return nil, malformed(line, "ar is not an array")
		}

		elems := ar.Array()
		call.Args = make([]json.RawMessage, 0, len(elems))
		for _, elem := range elems {
			call.Args = append(call.Args, json.RawMessage(elem.Raw))
		}
	}

	return call, nil
}

// callID accepts non-negative integral JSON numbers only
func callID(v gjson.Result) (CallID, bool) {
	if v.Type != gjson.Number {
		return 0, false
	}

	if v.Num < 0 || v.Num != float64(v.Uint()) {
		return 0, false
	}

	return CallID(v.Uint()), true
}

func malformed(line []byte, reason string) error {
	return fmt.Errorf("Failed to decode '%s' (%s): %w", string(line), reason, ErrMalformedFrame)
}
