package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/pingpong/session"
)

const (
	WriteQueueSize        = 127
	DefaultReadBufferSize = 4096
)

// TCPConn binds one protocol session to one TCP connection. A read loop feeds
// the session with whatever the socket returns, a write loop drains the frames
// the session writes.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	closeOnce  sync.Once

	conn    *net.TCPConn
	session *session.Session

	writeQueue chan []byte
	readSize   int

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn *net.TCPConn,
	options ConnOptions,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("remote", conn.RemoteAddr().String()))

	readSize := options.ReadBufferSize
	if readSize <= 0 {
		readSize = DefaultReadBufferSize
	}

	t := &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		writeQueue: make(chan []byte, WriteQueueSize),
		readSize:   readSize,
		log:        log,
	}

	t.session = session.New(t, session.Options{
		Handler:      options.Handler,
		Arity:        options.Arity,
		MaxFrameSize: options.MaxFrameSize,
		Log:          log.Named("session"),
	})

	return t
}

// Invoke calls the peer, see session.Session.Invoke
func (t *TCPConn) Invoke(args ...interface{}) error {
	return t.session.Invoke(args...)
}

// Call calls the peer and waits for its response, see session.Session.Call
func (t *TCPConn) Call(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
	return t.session.Call(ctx, args...)
}

// Handle binds the handler for the peer's calls
func (t *TCPConn) Handle(h session.Handler, arity int) {
	t.session.Handle(h, arity)
}

func (t *TCPConn) Session() *session.Session {
	return t.session
}

func (t *TCPConn) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *TCPConn) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Done is closed once the connection has stopped
func (t *TCPConn) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close fails every pending call with session.ErrClosed, stops both loops and
// closes the socket. It is safe to call more than once, but not from a handler
// or a continuation: both run on the read loop, which Close waits for. Use
// Session().Fail from there instead.
func (t *TCPConn) Close() error {
	t.shutdown(session.ErrClosed)

	// Wait for the read/write loops to exit
	t.loopWaiter.Wait()

	return nil
}

func (t *TCPConn) shutdown(reason error) {
	t.session.Fail(reason)

	t.closeOnce.Do(func() {
		t.cancel()

		// Unblocks the read loop
		if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.log.Warn("Failed to close connection cleanly", zap.Error(err))
		}
	})
}

// Start runs the read and write loops and blocks until both have exited.
// Cancelling the parent context closes the connection.
func (t *TCPConn) Start() {
	go func() {
		<-t.ctx.Done()
		t.shutdown(session.ErrClosed)
	}()

	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	reason := session.ErrClosed

	defer func() {
		t.shutdown(reason)
		log.Debug("Read loop exited")
	}()

	buf := make([]byte, t.readSize)

	for {
		n, err := t.conn.Read(buf)

		if n > 0 {
			if ferr := t.session.Feed(buf[:n]); ferr != nil {
				log.Error("Protocol violation, closing connection", zap.Error(ferr))
				reason = ferr
				return
			}
		}

		if err != nil {
			if !t.isRunning() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debug("Connection closed")
				return
			}

			log.Warn("Failed to read from connection", zap.Error(err))
			reason = err
			return
		}
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	defer func() {
		err := t.conn.CloseWrite()
		if err != nil && !errors.Is(err, net.ErrClosed) &&
			!strings.Contains(err.Error(), "transport endpoint is not connected") {
			log.Warn("Failed to close writes on connection cleanly",
				zap.Error(err))
		}

		log.Debug("Write loop exited")
	}()

	for {
		select {
		case <-t.ctx.Done():
			return

		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				log.Warn("Failed to write to connection",
					zap.ByteString("data", data),
					zap.Error(err))
				t.shutdown(err)
				return
			}
		}
	}
}

// Write queues one frame for the write loop. It is how the session reaches the
// socket and is not meant to be called directly.
func (t *TCPConn) Write(data []byte) (int, error) {
	select {
	case <-t.ctx.Done():
		return 0, session.ErrClosed

	case t.writeQueue <- data:
		return len(data), nil
	}
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		// if we can read on this channel then it's been closed
		return false

	default:
		return true
	}
}
