package apps

import (
	"go.uber.org/zap"

	"github.com/luma/pingpong/session"
	"github.com/luma/pingpong/transport"
)

const EchoPrefix = "[server] "

// Echo responds to every call with its first argument, prefixed.
var Echo = session.HandlerFunc(func(call *session.Call, r *session.Responder) error {
	if r == nil {
		return nil
	}

	return r.Respond(nil, EchoPrefix+call.Arg(0).String())
})

func BindEcho(server *transport.TCP, log *zap.Logger) {
	server.OnConnect(func(peer *transport.TCPConn) {
		log.Debug("Peer connected", zap.Stringer("remote", peer.RemoteAddr()))
		peer.Handle(Echo, 1)
	})
}
