// Package apps holds the demo applications `pingpong serve` can run.
package apps

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/luma/pingpong/transport"
)

// Binder attaches an application to a server's connection hooks
type Binder func(server *transport.TCP, log *zap.Logger)

var registry = map[string]Binder{
	"echo": BindEcho,
	"chat": BindChat,
}

// Bind attaches the named application to server
func Bind(name string, server *transport.TCP, log *zap.Logger) error {
	bind, ok := registry[name]
	if !ok {
		return fmt.Errorf("Unknown app %q, expected one of %v", name, Names())
	}

	bind(server, log.Named(name))
	return nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
