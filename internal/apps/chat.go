package apps

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/pingpong/session"
	"github.com/luma/pingpong/transport"
)

// Chat events, sent as the first argument of a call
const (
	EventJoin    = "join"
	EventMessage = "message"
	EventLeave   = "leave"
)

var (
	ErrNotJoined     = errors.New("Join before sending messages")
	ErrAlreadyJoined = errors.New("Already joined")
	ErrMissingName   = errors.New("A name is required to join")
)

// Chat relays messages between every connected peer. A peer joins with
//
//	["join", <name>]      -> responds with the names already in the room
//	["message", <text>]   -> everyone receives ["message", <name>, <text>]
//
// and everyone receives ["join", <name>] and ["leave", <name>] as peers come
// and go.
type Chat struct {
	server *transport.TCP

	mu    sync.Mutex
	names map[*transport.TCPConn]string

	log *zap.Logger
}

func NewChat(server *transport.TCP, log *zap.Logger) *Chat {
	return &Chat{
		server: server,
		names:  make(map[*transport.TCPConn]string),
		log:    log,
	}
}

func BindChat(server *transport.TCP, log *zap.Logger) {
	chat := NewChat(server, log)

	server.OnConnect(chat.connect)
	server.OnDisconnect(chat.disconnect)
}

func (c *Chat) connect(peer *transport.TCPConn) {
	peer.Handle(session.HandlerFunc(func(call *session.Call, r *session.Responder) error {
		return c.serve(peer, call, r)
	}), 2)
}

func (c *Chat) disconnect(peer *transport.TCPConn) {
	c.mu.Lock()
	name, ok := c.names[peer]
	delete(c.names, peer)
	c.mu.Unlock()

	if ok {
		c.broadcast(EventLeave, name)
	}
}

func (c *Chat) serve(peer *transport.TCPConn, call *session.Call, r *session.Responder) error {
	switch event := call.Arg(0).String(); event {
	case EventJoin:
		return c.join(peer, call.Arg(1).String(), r)

	case EventMessage:
		c.mu.Lock()
		name, ok := c.names[peer]
		c.mu.Unlock()

		if !ok {
			return respondErr(r, ErrNotJoined)
		}

		var text json.RawMessage
		if call.Len() > 1 {
			text = call.Args[1]
		}

		c.broadcast(EventMessage, name, text)
		return respondErr(r, nil)

	default:
		c.log.Debug("Ignoring unknown event", zap.String("event", event))
		return nil
	}
}

func (c *Chat) join(peer *transport.TCPConn, name string, r *session.Responder) error {
	if name == "" {
		return respondErr(r, ErrMissingName)
	}

	c.mu.Lock()
	if _, ok := c.names[peer]; ok {
		c.mu.Unlock()
		return respondErr(r, ErrAlreadyJoined)
	}

	names := make([]string, 0, len(c.names))
	for _, other := range c.names {
		names = append(names, other)
	}
	c.names[peer] = name
	c.mu.Unlock()

	sort.Strings(names)

	if r != nil {
		if err := r.Respond(nil, names); err != nil {
			return err
		}
	}

	c.broadcast(EventJoin, name)
	return nil
}

func (c *Chat) broadcast(args ...interface{}) {
	if err := c.server.Broadcast(args...); err != nil {
		c.log.Warn("Failed to reach every peer", zap.Error(err))
	}
}

// respondErr acknowledges, or rejects, a call that asked for a reply
func respondErr(r *session.Responder, err error) error {
	if r == nil {
		return err
	}

	return r.Respond(err, nil)
}
