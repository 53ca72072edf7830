package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/luma/pingpong/protocol"
)

// Invoke calls the peer's handler with args.
//
// If the last argument is a Continuation (or a func(error, json.RawMessage))
// it is removed from args, the call is assigned the next call ID and the
// continuation runs once the peer responds or the connection fails. Otherwise
// the call is fire-and-forget and consumes no ID.
//
// Exactly one frame is written before Invoke returns. If the write fails the
// continuation is forgotten, never runs and the write error is returned. When
// the session fails during the write, Fail has already resolved the
// continuation with its error and Invoke returns nil.
func (s *Session) Invoke(args ...interface{}) error {
	args, cont := popContinuation(args)

	frame := &protocol.CallFrame{}

	if len(args) > 0 {
		raw, err := marshalArgs(args)
		if err != nil {
			return err
		}
		frame.Args = raw
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return ErrSessionFailed
	}

	if cont != nil {
		// Registered before the write so a fast response always finds it
		frame.ID = s.nextID
		frame.HasID = true
		s.pending[frame.ID] = cont
		s.nextID++
	}
	s.mu.Unlock()

	b, err := frame.Encode()
	if err == nil {
		_, err = s.w.Write(b)
	}

	if err != nil {
		if frame.HasID && !s.forget(frame.ID) {
			// Fail got there first and delivered its error to the continuation
			return nil
		}
		return fmt.Errorf("Failed to send call: %w", err)
	}

	return nil
}

// Call invokes the peer's handler and waits for its response. ctx only bounds
// the wait, the call stays pending until the peer responds or the connection
// fails.
func (s *Session) Call(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
	type reply struct {
		result json.RawMessage
		err    error
	}

	replies := make(chan reply, 1)

	withCont := make([]interface{}, 0, len(args)+1)
	withCont = append(withCont, args...)
	withCont = append(withCont, Continuation(func(err error, result json.RawMessage) {
		replies <- reply{result: result, err: err}
	}))

	if err := s.Invoke(withCont...); err != nil {
		return nil, err
	}

	select {
	case r := <-replies:
		return r.result, r.err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// forget removes a pending call, returning false if it was already resolved
func (s *Session) forget(id protocol.CallID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[id]
	delete(s.pending, id)
	return ok
}

func popContinuation(args []interface{}) ([]interface{}, Continuation) {
	if len(args) == 0 {
		return args, nil
	}

	last := len(args) - 1

	switch fn := args[last].(type) {
	case Continuation:
		if fn != nil {
			return args[:last], fn
		}

	case func(error, json.RawMessage):
		if fn != nil {
			return args[:last], fn
		}
	}

	return args, nil
}

func marshalArgs(args []interface{}) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(args))

	for i, arg := range args {
		if v, ok := arg.(json.RawMessage); ok && v == nil {
			raw = append(raw, json.RawMessage("null"))
			continue
		}

		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("Failed to encode argument %d: %w", i, err)
		}

		raw = append(raw, b)
	}

	return raw, nil
}
