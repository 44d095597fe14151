package web

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"

	"github.com/cjeanneret/RotaGo/internal/debug"
)

const (
	mdnsServiceType = "_rotago._tcp"
	mdnsDomain      = "local."
)

// registerFunc matches zeroconf.Register; swapped in tests.
var registerFunc = zeroconf.Register

// Advertise announces the web surface on the local network so phones can find
// it without knowing the Pi's address. It blocks until ctx is cancelled.
func Advertise(ctx context.Context, name string, port int, txt map[string]string) error {
	records := make([]string, 0, len(txt))
	for k, v := range txt {
		records = append(records, k+"="+v)
	}

	server, err := registerFunc(name, mdnsServiceType, mdnsDomain, port, records, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	debug.Info("mdns advertising", "name", name, "service", mdnsServiceType, "port", port)
	<-ctx.Done()
	server.Shutdown()
	return nil
}
