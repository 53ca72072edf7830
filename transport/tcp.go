package transport

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNotStarted = errors.New("TCP server has not been started")

// PeerFunc is notified about a peer connecting or disconnecting
type PeerFunc func(peer *TCPConn)

// TCP accepts connections on one or more listeners and binds a protocol
// session to each of them. It keeps the set of live peers and notifies
// OnConnect/OnDisconnect hooks as peers come and go.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	host      string
	port      int
	reuseport bool

	numListeners int
	listeners    []*TCPListener

	maxFrameSize int

	mu           sync.Mutex
	peers        map[*TCPConn]struct{}
	onConnect    PeerFunc
	onDisconnect PeerFunc

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = 1
		if options.Reuseport {
			numListeners = runtime.NumCPU()
		}
	}

	if !options.Reuseport {
		// Without SO_REUSEPORT only one socket can bind the address
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		host:         options.Host,
		port:         options.Port,
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		maxFrameSize: options.MaxFrameSize,
		peers:        make(map[*TCPConn]struct{}),
		log:          log,
	}
}

// Start binds every listener before returning, then accepts connections in
// the background until ctx is done or Close is called.
func (w *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners", zap.Int("count", w.numListeners))

	port := w.port
	for i := 0; i < w.numListeners; i++ {
		listener, err := w.listen(net.JoinHostPort(w.host, strconv.Itoa(port)))
		if err != nil {
			cancel()
			w.closeListeners()
			return err
		}

		// A random port is picked once and shared by the remaining listeners
		port = listener.Addr().(*net.TCPAddr).Port

		w.startListener(ctx, listener)
	}

	return nil
}

func (w *TCP) listen(addr string) (net.Listener, error) {
	if w.reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

func (w *TCP) startListener(ctx context.Context, l net.Listener) {
	w.stopWaiter.Add(1)
	listener := NewTCPListener(
		ctx,
		l,
		w,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	w.listeners = append(w.listeners, listener)

	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			w.log.Error("Failed to listen", zap.Error(err))
		}
	}()
}

// Addr returns the address the server is listening on, nil before Start
func (w *TCP) Addr() net.Addr {
	if len(w.listeners) == 0 {
		return nil
	}

	return w.listeners[0].Addr()
}

// OnConnect sets the hook for new peers. It is also called, immediately, for
// every peer that is already connected.
func (w *TCP) OnConnect(fn PeerFunc) {
	w.mu.Lock()
	w.onConnect = fn
	peers := w.peersLocked()
	w.mu.Unlock()

	for _, peer := range peers {
		fn(peer)
	}
}

func (w *TCP) OnDisconnect(fn PeerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.onDisconnect = fn
}

// Peers returns a snapshot of the connected peers
func (w *TCP) Peers() []*TCPConn {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.peersLocked()
}

func (w *TCP) peersLocked() []*TCPConn {
	peers := make([]*TCPConn, 0, len(w.peers))
	for peer := range w.peers {
		peers = append(peers, peer)
	}

	return peers
}

// Broadcast makes a fire-and-forget call to every connected peer.
func (w *TCP) Broadcast(args ...interface{}) (err error) {
	for _, peer := range w.Peers() {
		if perr := peer.Invoke(args...); perr != nil {
			err = multierr.Append(err, perr)
		}
	}

	return err
}

func (w *TCP) addPeer(peer *TCPConn) {
	w.mu.Lock()
	w.peers[peer] = struct{}{}
	fn := w.onConnect
	w.mu.Unlock()

	if fn != nil {
		fn(peer)
	}
}

func (w *TCP) removePeer(peer *TCPConn) {
	w.mu.Lock()
	_, ok := w.peers[peer]
	delete(w.peers, peer)
	fn := w.onDisconnect
	w.mu.Unlock()

	if ok && fn != nil {
		fn(peer)
	}
}

// Close immediately closes all listeners and connections, failing any call
// still waiting for a peer's response.
func (w *TCP) Close() error {
	if w.cancel == nil {
		return ErrNotStarted
	}

	w.log.Info("Stopping TCP server")
	w.cancel()

	err := w.closeListeners()

	w.stopWaiter.Wait()
	w.log.Info("Listeners stopped")

	return err
}

func (w *TCP) closeListeners() (err error) {
	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	server   *TCP
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	server *TCP,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		server:      server,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting and closes every connection accepted by this listener
func (t *TCPListener) Close() error {
	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for _, conn := range t.conns() {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

func (t *TCPListener) Listen() error {
	var loopWaiter sync.WaitGroup

	go func() {
		<-t.ctx.Done()

		if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	defer func() {
		t.log.Info("Waiting for Read/Write loops to stop")
		loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				t.log.Info("Stopped accepting new connections")
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Temporary() {
				t.log.Warn("Temporary accept failure", zap.Error(err))
				continue
			}

			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn.(*net.TCPConn), ConnOptions{
			MaxFrameSize: t.server.maxFrameSize,
			Log:          t.log.Named("conn"),
		})

		t.addConn(tcpConn)

		loopWaiter.Add(1)
		go func() {
			defer loopWaiter.Done()
			defer t.removeConn(tcpConn)

			// Registered before the loops start so hooks can bind a handler
			// before the first frame is read
			t.server.addPeer(tcpConn)
			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) conns() []*TCPConn {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}

	return conns
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	delete(t.activeConns, conn)
	t.mu.Unlock()

	t.server.removePeer(conn)
}
