package client

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/luma/pingpong/session"
	"github.com/luma/pingpong/transport"
)

type Options struct {
	// Handler serves calls the server makes on this connection, it can be
	// bound later with Handle
	Handler session.Handler
	Arity   int

	MaxFrameSize int

	Log *zap.Logger
}

// Conn is a client connection. Both ends can call each other, so a Conn
// invokes the server and serves the server's calls through its handler.
type Conn struct {
	*transport.TCPConn

	stopped chan struct{}
}

// Dial connects to addr and starts the connection's read and write loops.
// Cancelling ctx after Dial returns closes the connection.
func Dial(ctx context.Context, addr string, options Options) (*Conn, error) {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		TCPConn: transport.NewTCPConn(ctx, conn.(*net.TCPConn), transport.ConnOptions{
			Handler:      options.Handler,
			Arity:        options.Arity,
			MaxFrameSize: options.MaxFrameSize,
			Log:          log.Named("client"),
		}),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(c.stopped)
		c.Start()
	}()

	log.Info("Connected", zap.String("addr", addr))

	return c, nil
}

// Disconnect closes the connection, failing every call still waiting for a
// response with session.ErrClosed.
func (c *Conn) Disconnect() error {
	err := c.Close()
	<-c.stopped

	return err
}

// Stopped is closed once the connection's loops have exited
func (c *Conn) Stopped() <-chan struct{} {
	return c.stopped
}
