package transport

import (
	"go.uber.org/zap"

	"github.com/luma/pingpong/session"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port shared by every listener
	Port int

	// Reuseport controls setting SO_REUSEPORT
	Reuseport bool

	// NumListeners defaults to the number of CPUs when Reuseport is set, one
	// otherwise
	NumListeners int

	// MaxFrameSize bounds the bytes buffered for one incomplete frame, 0 is
	// unbounded
	MaxFrameSize int

	Log *zap.Logger
}

// ConnOptions configures a single connection
type ConnOptions struct {
	Handler      session.Handler
	Arity        int
	MaxFrameSize int

	// ReadBufferSize is the size of each read from the socket
	ReadBufferSize int

	Log *zap.Logger
}
