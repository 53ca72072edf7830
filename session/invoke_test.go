package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/pingpong/session"
)

func noop(error, json.RawMessage) {}

var _ = Describe("Session / Invoke", func() {
	var (
		w *wire
		s *session.Session
	)

	BeforeEach(func() {
		w = &wire{}
		s = session.New(w, session.Options{})
	})

	It("writes an empty json object when called without arguments", func() {
		Expect(s.Invoke()).To(Succeed())
		Expect(w.String()).To(Equal("{}\n"))
	})

	It("writes a single argument", func() {
		Expect(s.Invoke(42)).To(Succeed())
		Expect(w.String()).To(Equal(`{"ar":[42]}` + "\n"))
	})

	It("writes multiple arguments", func() {
		Expect(s.Invoke("abc", 42, []string{"some", "stuff"})).To(Succeed())
		Expect(w.String()).To(Equal(`{"ar":["abc",42,["some","stuff"]]}` + "\n"))
	})

	It("writes the id when given a continuation and registers it", func() {
		Expect(s.Invoke(session.Continuation(noop))).To(Succeed())
		Expect(w.String()).To(Equal(`{"id":0}` + "\n"))
		Expect(s.Pending()).To(Equal(1))
	})

	It("accepts a plain func as the continuation", func() {
		Expect(s.Invoke(123, "abc", noop)).To(Succeed())
		Expect(w.String()).To(Equal(`{"id":0,"ar":[123,"abc"]}` + "\n"))
	})

	It("assigns increasing ids that fire-and-forget calls do not consume", func() {
		for i := 0; i < 5; i++ {
			Expect(s.Invoke("x", noop)).To(Succeed())
			Expect(s.Invoke("no reply")).To(Succeed())
		}

		Expect(w.Lines()).To(Equal([]string{
			`{"id":0,"ar":["x"]}` + "\n", `{"ar":["no reply"]}` + "\n",
			`{"id":1,"ar":["x"]}` + "\n", `{"ar":["no reply"]}` + "\n",
			`{"id":2,"ar":["x"]}` + "\n", `{"ar":["no reply"]}` + "\n",
			`{"id":3,"ar":["x"]}` + "\n", `{"ar":["no reply"]}` + "\n",
			`{"id":4,"ar":["x"]}` + "\n", `{"ar":["no reply"]}` + "\n",
		}))
		Expect(s.Pending()).To(Equal(5))
	})

	It("keeps assigning ids in order around inbound traffic", func() {
		Expect(s.Invoke(noop)).To(Succeed())
		Expect(s.Feed([]byte(`{"ci":0}` + "\n" + `{"ar":[1]}` + "\n"))).To(Succeed())
		w.Reset()

		Expect(s.Invoke(noop)).To(Succeed())
		Expect(w.String()).To(Equal(`{"id":1}` + "\n"))
	})

	It("passes raw json arguments through", func() {
		Expect(s.Invoke(json.RawMessage(`{"a":1}`), json.RawMessage(nil))).To(Succeed())
		Expect(w.String()).To(Equal(`{"ar":[{"a":1},null]}` + "\n"))
	})

	It("returns an error without writing when an argument cannot be encoded", func() {
		err := s.Invoke(make(chan int), noop)
		Expect(err).To(HaveOccurred())
		Expect(w.String()).To(BeEmpty())
		Expect(s.Pending()).To(Equal(0))

		Expect(s.Invoke(noop)).To(Succeed())
		Expect(w.String()).To(Equal(`{"id":0}` + "\n"))
	})

	It("forgets the continuation when the write fails", func() {
		w.fail = true
		called := false

		err := s.Invoke(func(error, json.RawMessage) { called = true })
		Expect(errors.Is(err, errWriteFailed)).To(BeTrue())
		Expect(s.Pending()).To(Equal(0))

		s.Fail(errors.New("ouch"))
		Expect(called).To(BeFalse())
	})

	It("reports a failure during the write only through the continuation", func() {
		s = session.New(writerFunc(func(p []byte) (int, error) {
			s.Fail(errors.New("connection reset"))
			return 0, session.ErrClosed
		}), session.Options{})

		var results []error
		Expect(s.Invoke(1, func(err error, _ json.RawMessage) {
			results = append(results, err)
		})).To(Succeed())

		Expect(results).To(HaveLen(1))
		Expect(results[0]).To(MatchError("connection reset"))
		Expect(s.Pending()).To(Equal(0))
	})

	It("returns the failure from Call when the session fails mid write", func() {
		s = session.New(writerFunc(func(p []byte) (int, error) {
			s.Fail(errors.New("connection reset"))
			return 0, session.ErrClosed
		}), session.Options{})

		_, err := s.Call(context.Background(), "abc")
		Expect(err).To(MatchError("connection reset"))
	})

	It("refuses new calls once the session has failed", func() {
		s.Fail(nil)

		Expect(s.Invoke("abc")).To(MatchError(session.ErrSessionFailed))
		Expect(s.Invoke(noop)).To(MatchError(session.ErrSessionFailed))
		Expect(w.String()).To(BeEmpty())
		Expect(s.Pending()).To(Equal(0))
	})

	Describe("Call()", func() {
		It("returns the response payload", func() {
			go func() {
				defer GinkgoRecover()
				Eventually(w.String).Should(Equal(`{"id":0,"ar":["ping"]}` + "\n"))
				Expect(s.Feed([]byte(`{"ci":0,"re":"pong"}` + "\n"))).To(Succeed())
			}()

			result, err := s.Call(context.Background(), "ping")
			Expect(err).To(Succeed())
			Expect(string(result)).To(Equal(`"pong"`))
		})

		It("returns the remote error", func() {
			go func() {
				defer GinkgoRecover()
				Eventually(w.String).ShouldNot(BeEmpty())
				Expect(s.Feed([]byte(`{"ci":0,"er":"nope"}` + "\n"))).To(Succeed())
			}()

			_, err := s.Call(context.Background())

			var remote *session.RemoteError
			Expect(errors.As(err, &remote)).To(BeTrue())
			Expect(remote.Message).To(Equal("nope"))
		})

		It("stops waiting when the context is done but leaves the call pending", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			_, err := s.Call(ctx, "slow")
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(s.Pending()).To(Equal(1))

			Expect(s.Feed([]byte(`{"ci":0}` + "\n"))).To(Succeed())
			Expect(s.Pending()).To(Equal(0))
		})

		It("returns the terminal error when the session fails", func() {
			go func() {
				defer GinkgoRecover()
				Eventually(s.Pending).Should(Equal(1))
				s.Fail(errors.New("socket hang up"))
			}()

			_, err := s.Call(context.Background(), "x")
			Expect(err).To(MatchError("socket hang up"))
		})
	})
})
