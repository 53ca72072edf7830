package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luma/pingpong/client"
	"github.com/luma/pingpong/internal/env"
	"github.com/luma/pingpong/session"
)

var (
	callAddr    string
	callTimeout time.Duration
	callNoReply bool
	callRepeat  int
	callRate    float64
	callLinger  time.Duration
)

func init() {
	flags := CallCmd.Flags()

	flags.StringVar(&callAddr, "addr", "127.0.0.1:8000", "The address of the pingpong server")
	flags.DurationVar(&callTimeout, "timeout", 5*time.Second, "How long to wait for each reply")
	flags.BoolVar(&callNoReply, "no-reply", false, "Send fire-and-forget calls")
	flags.IntVarP(&callRepeat, "repeat", "n", 1, "How many times to make the call")
	flags.Float64Var(&callRate, "rate", 10, "The maximum number of calls per second when repeating")
	flags.DurationVar(&callLinger, "linger", 0, "How long to stay connected, printing the server's calls, after the last reply")
}

var CallCmd = &cobra.Command{
	Use:   "call [args...]",
	Short: "Call a pingpong server and print the reply",
	Long: `Call a pingpong server and print the reply

Each argument is sent as JSON when it parses as JSON and as a string otherwise.

Usage
	pingpong call 'Hello world'
	pingpong call join alice --linger 1m
	pingpong call --repeat 100 --rate 10 ping

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		out := cmd.OutOrStdout()

		conn, err := client.Dial(ctx, callAddr, client.Options{
			Handler:      printCalls(out),
			MaxFrameSize: conf.MaxFrameSize,
			Log:          log,
		})
		if err != nil {
			return err
		}
		defer conn.Disconnect()

		callArgs := parseCallArgs(args)
		limiter := rate.NewLimiter(rate.Limit(callRate), 1)

		for i := 0; i < callRepeat; i++ {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}

			if callNoReply {
				if err := conn.Invoke(callArgs...); err != nil {
					return err
				}
				continue
			}

			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			result, err := conn.Call(callCtx, callArgs...)
			cancel()

			if err != nil {
				log.Warn("Call failed", zap.Int("attempt", i), zap.Error(err))
				fmt.Fprintln(out, "error:", err)
				continue
			}

			if result == nil {
				fmt.Fprintln(out, "ok")
			} else {
				fmt.Fprintln(out, string(result))
			}
		}

		if callLinger > 0 {
			select {
			case <-ctx.Done():
			case <-conn.Stopped():
			case <-time.After(callLinger):
			}
		}

		return nil
	},
}

// parseCallArgs sends anything that parses as JSON as JSON and everything
// else as a string
func parseCallArgs(args []string) []interface{} {
	callArgs := make([]interface{}, 0, len(args))

	for _, arg := range args {
		if json.Valid([]byte(arg)) {
			callArgs = append(callArgs, json.RawMessage(arg))
		} else {
			callArgs = append(callArgs, arg)
		}
	}

	return callArgs
}

// printCalls writes every call the server makes as a JSON array, and
// acknowledges it if the server asked for a reply
func printCalls(out io.Writer) session.Handler {
	return session.HandlerFunc(func(call *session.Call, r *session.Responder) error {
		line, err := json.Marshal(call.Args)
		if err != nil {
			return err
		}

		fmt.Fprintln(out, "<", string(line))

		if r != nil {
			return r.Respond(nil, nil)
		}

		return nil
	})
}
