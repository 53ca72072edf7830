package apps_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/pingpong/client"
	"github.com/luma/pingpong/internal/apps"
	"github.com/luma/pingpong/session"
	"github.com/luma/pingpong/transport"
)

// inbox collects the calls a client receives from the server
type inbox struct {
	mu     sync.Mutex
	events [][]string
}

func (i *inbox) ServeCall(call *session.Call, r *session.Responder) error {
	event := make([]string, 0, call.Len())
	for n := 0; n < call.Len(); n++ {
		event = append(event, call.Arg(n).String())
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.events = append(i.events, event)
	return nil
}

func (i *inbox) Events() [][]string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([][]string(nil), i.events...)
}

var _ = Describe("apps", func() {
	var (
		server *transport.TCP
		ctx    context.Context
		cancel context.CancelFunc
	)

	start := func(app string) {
		server = transport.NewTCP(transport.Options{Host: "127.0.0.1", Log: zap.NewNop()})
		Expect(apps.Bind(app, server, zap.NewNop())).To(Succeed())
		Expect(server.Start(ctx)).To(Succeed())
	}

	dial := func(h session.Handler) *client.Conn {
		conn, err := client.Dial(ctx, server.Addr().String(), client.Options{Handler: h, Arity: 3})
		Expect(err).To(Succeed())
		return conn
	}

	BeforeEach(func() {
		server = nil
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	})

	AfterEach(func() {
		if server != nil {
			Expect(server.Close()).To(Succeed())
		}
		cancel()
	})

	It("refuses unknown apps", func() {
		server = nil
		Expect(apps.Bind("nope", transport.NewTCP(transport.Options{}), zap.NewNop())).To(HaveOccurred())
		Expect(apps.Names()).To(Equal([]string{"chat", "echo"}))
	})

	Describe("echo", func() {
		It("echoes the first argument", func() {
			start("echo")
			conn := dial(nil)
			defer conn.Disconnect()

			result, err := conn.Call(ctx, "Hello world (1)")
			Expect(err).To(Succeed())
			Expect(string(result)).To(Equal(`"[server] Hello world (1)"`))
		})

		It("ignores fire-and-forget calls", func() {
			start("echo")
			conn := dial(nil)
			defer conn.Disconnect()

			Expect(conn.Invoke("nobody listens")).To(Succeed())

			result, err := conn.Call(ctx, "still alive")
			Expect(err).To(Succeed())
			Expect(string(result)).To(Equal(`"[server] still alive"`))
		})
	})

	Describe("chat", func() {
		It("announces joins, relays messages and announces leaves", func() {
			start("chat")

			alice, bob := &inbox{}, &inbox{}

			aliceConn := dial(alice)
			defer aliceConn.Disconnect()

			names, err := aliceConn.Call(ctx, apps.EventJoin, "alice")
			Expect(err).To(Succeed())
			Expect(string(names)).To(Equal(`[]`))

			bobConn := dial(bob)
			names, err = bobConn.Call(ctx, apps.EventJoin, "bob")
			Expect(err).To(Succeed())
			Expect(string(names)).To(Equal(`["alice"]`))

			_, err = bobConn.Call(ctx, apps.EventMessage, "hi alice")
			Expect(err).To(Succeed())

			Eventually(alice.Events).Should(ContainElement([]string{"message", "bob", "hi alice"}))
			Eventually(bob.Events).Should(ContainElement([]string{"message", "bob", "hi alice"}))

			Expect(bobConn.Disconnect()).To(Succeed())
			Eventually(alice.Events).Should(ContainElement([]string{"leave", "bob"}))
			Expect(alice.Events()).To(ContainElement([]string{"join", "bob"}))
		})

		It("rejects messages before joining", func() {
			start("chat")
			conn := dial(nil)
			defer conn.Disconnect()

			_, err := conn.Call(ctx, apps.EventMessage, "hello?")
			Expect(err).To(MatchError(apps.ErrNotJoined.Error()))
		})

		It("rejects joining twice", func() {
			start("chat")
			conn := dial(nil)
			defer conn.Disconnect()

			_, err := conn.Call(ctx, apps.EventJoin, "carol")
			Expect(err).To(Succeed())

			_, err = conn.Call(ctx, apps.EventJoin, "carol")
			Expect(err).To(MatchError(apps.ErrAlreadyJoined.Error()))

			var remote *session.RemoteError
			_, err = conn.Call(ctx, apps.EventJoin, "")
			Expect(err).To(BeAssignableToTypeOf(remote))
		})

		It("relays structured messages untouched", func() {
			start("chat")

			received := make(chan json.RawMessage, 4)
			conn := dial(session.HandlerFunc(func(call *session.Call, r *session.Responder) error {
				if call.Arg(0).String() == apps.EventMessage {
					received <- call.Args[2]
				}
				return nil
			}))
			defer conn.Disconnect()

			_, err := conn.Call(ctx, apps.EventJoin, "dave")
			Expect(err).To(Succeed())
			Expect(conn.Invoke(apps.EventMessage, map[string]int{"x": 1})).To(Succeed())

			Eventually(received).Should(Receive(Equal(json.RawMessage(`{"x":1}`))))
		})
	})
})
