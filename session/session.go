// Package session implements the per connection protocol engine. A Session
// turns inbound chunks into frames, dispatches calls to a Handler, resolves the
// continuations of calls it made and fails every pending call once the
// connection goes away.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/pingpong/protocol"
)

var (
	// ErrClosed is delivered to pending calls when the connection closes
	// without a more specific error
	ErrClosed = errors.New("Connection closed")

	ErrSessionFailed = errors.New("Session has failed, no further calls can be made")
)

// RemoteError is the error a continuation receives when the peer responded
// with an error message.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Continuation receives the outcome of a call. Exactly one of err and result
// is meaningful, result is nil when the peer sent no value.
type Continuation func(err error, result json.RawMessage)

type Options struct {
	// Handler serves the peer's calls, it can be bound later with Handle
	Handler Handler

	// Arity is the number of positional arguments Handler expects before
	// the responder
	Arity int

	// MaxFrameSize bounds the bytes buffered for one incomplete frame, 0 is
	// unbounded
	MaxFrameSize int

	Log *zap.Logger
}

// Session is the protocol state of a single connection. It is never shared
// between connections.
//
// Feed must only be called from one goroutine, the connection's read loop.
// Invoke, Call, Fail and Responders are safe for concurrent use.
type Session struct {
	w   io.Writer
	wmu sync.Mutex

	frames *protocol.FrameBuffer

	mu      sync.Mutex
	nextID  protocol.CallID
	pending map[protocol.CallID]Continuation
	failed  bool
	handler Handler
	arity   int

	log *zap.Logger
}

func New(w io.Writer, options Options) *Session {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Session{
		w:       w,
		frames:  protocol.NewFrameBuffer(options.MaxFrameSize),
		pending: make(map[protocol.CallID]Continuation),
		handler: options.Handler,
		arity:   options.Arity,
		log:     log,
	}
}

// Handle binds h as the handler for the peer's calls. Calls that arrive while
// no handler is bound are dropped.
func (s *Session) Handle(h Handler, arity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = h
	s.arity = arity
}

// Pending returns the number of calls still waiting for a response
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Failed returns true once Fail has been called
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failed
}

// Feed processes a chunk of bytes read from the connection. Every complete
// frame is dispatched in order before Feed returns.
//
// A malformed frame stops processing of the chunk and its error, wrapping
// protocol.ErrMalformedFrame, is returned. Callers treat that as fatal for
// the connection.
func (s *Session) Feed(chunk []byte) error {
	lines, bufErr := s.frames.Feed(chunk)

	for _, line := range lines {
		frame, err := protocol.DecodeFrame(line)
		if err != nil {
			return err
		}

		s.dispatch(line, frame)
	}

	return bufErr
}

func (s *Session) dispatch(line []byte, frame protocol.Frame) {
	switch f := frame.(type) {
	case *protocol.ResponseFrame:
		s.resolve(f)

	case *protocol.CallFrame:
		s.serve(line, f)
	}
}

func (s *Session) resolve(f *protocol.ResponseFrame) {
	s.mu.Lock()
	cont, ok := s.pending[f.ID]
	delete(s.pending, f.ID)
	s.mu.Unlock()

	if !ok {
		s.log.Debug("Ignoring response for unknown call", zap.Uint64("callID", uint64(f.ID)))
		return
	}

	if f.HasError {
		s.invokeContinuation(f.ID, cont, &RemoteError{Message: f.Error}, nil)
		return
	}

	s.invokeContinuation(f.ID, cont, nil, f.Result)
}

func (s *Session) serve(line []byte, f *protocol.CallFrame) {
	s.mu.Lock()
	h, arity := s.handler, s.arity
	s.mu.Unlock()

	if h == nil {
		s.log.Debug("No handler bound, dropping call", zap.ByteString("frame", line))
		return
	}

	call := &Call{ID: f.ID, HasID: f.HasID, Args: f.Args}

	var r *Responder
	if f.HasID {
		r = newResponder(s, f.ID)

		if len(call.Args) < arity {
			padded := make([]json.RawMessage, arity)
			copy(padded, call.Args)
			call.Args = padded
		}
	}

	defer func() {
		if p := recover(); p != nil {
			s.log.Error("Caught panic in handler",
				zap.ByteString("frame", line),
				zap.Any("panic", p),
				zap.Stack("stack"))
		}
	}()

	if err := h.ServeCall(call, r); err != nil {
		s.log.Error("Handler failed",
			zap.ByteString("frame", line),
			zap.Error(err))
	}
}

// Fail resolves every pending call with err and marks the session failed.
// Only the first call has any effect, so both an error and a close can be
// reported for the same connection.
func (s *Session) Fail(err error) {
	if err == nil {
		err = ErrClosed
	}

	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return
	}

	s.failed = true
	pending := s.pending
	s.pending = make(map[protocol.CallID]Continuation)
	s.mu.Unlock()

	ids := make([]protocol.CallID, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) > 0 {
		s.log.Info("Failing pending calls", zap.Int("count", len(ids)), zap.Error(err))
	}

	for _, id := range ids {
		s.invokeContinuation(id, pending[id], err, nil)
	}
}

func (s *Session) invokeContinuation(id protocol.CallID, cont Continuation, err error, result json.RawMessage) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("Caught panic in continuation",
				zap.Uint64("callID", uint64(id)),
				zap.Any("panic", p),
				zap.Stack("stack"))
		}
	}()

	cont(err, result)
}

func (s *Session) write(frame protocol.Frame) error {
	b, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("Failed to encode %s frame: %w", frame.Kind(), err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.Failed() {
		return ErrSessionFailed
	}

	_, err = s.w.Write(b)
	return err
}
