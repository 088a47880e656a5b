// Package netgate classifies current network connectivity with a single
// one-shot query and decides whether sync may proceed.
package netgate

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Class is the connectivity classification observed by one query.
type Class string

const (
	ClassWifi     Class = "wifi"
	ClassCellular Class = "cellular"
	ClassOther    Class = "other"
	ClassNone     Class = "none"
)

// DefaultProbeTimeout bounds a single classification. The query must finish
// or give up quickly; it never installs a long-lived monitor.
const DefaultProbeTimeout = 3 * time.Second

// Classifier performs a one-shot connectivity classification.
type Classifier interface {
	Classify(ctx context.Context) (Class, error)
}

// InterfaceGate classifies connectivity by inspecting the system's network
// interfaces exactly once per call. It observes a single reading and holds
// no state between calls.
type InterfaceGate struct {
	timeout time.Duration
	logger  *slog.Logger

	// interfaces is swappable for tests.
	interfaces func() ([]net.Interface, error)
}

// NewInterfaceGate creates a gate with the default probe timeout.
func NewInterfaceGate(logger *slog.Logger) *InterfaceGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &InterfaceGate{
		timeout:    DefaultProbeTimeout,
		logger:     logger,
		interfaces: net.Interfaces,
	}
}

// Classify returns the current connectivity class. The call is bounded by
// the probe timeout and the caller's context; on expiry it reports ClassNone
// together with the context error.
func (g *InterfaceGate) Classify(ctx context.Context) (Class, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		class Class
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		ifaces, err := g.interfaces()
		if err != nil {
			ch <- result{ClassNone, err}
			return
		}
		ch <- result{classifyInterfaces(ifaces), nil}
	}()

	select {
	case r := <-ch:
		g.logger.Debug("connectivity classified", slog.String("class", string(r.class)))
		return r.class, r.err
	case <-ctx.Done():
		return ClassNone, ctx.Err()
	}
}

// classifyInterfaces maps the set of up, non-loopback interfaces to a class.
// Wifi wins over cellular when both are up.
func classifyInterfaces(ifaces []net.Interface) Class {
	class := ClassNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		name := strings.ToLower(iface.Name)
		switch {
		case isWifiName(name):
			return ClassWifi
		case isCellularName(name):
			class = ClassCellular
		default:
			if class == ClassNone {
				class = ClassOther
			}
		}
	}
	return class
}

func isWifiName(name string) bool {
	for _, prefix := range []string{"wlan", "wlp", "wifi", "ath", "en0"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isCellularName(name string) bool {
	for _, prefix := range []string{"wwan", "rmnet", "pdp_ip", "ccmni", "usbmodem"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// ShouldSync decides whether sync may proceed for the observed class.
// Wifi always allows. Cellular and other links defer to the user's
// allow-cellular preference. No link never allows, regardless of preference.
func ShouldSync(class Class, allowCellular bool) bool {
	switch class {
	case ClassWifi:
		return true
	case ClassCellular, ClassOther:
		return allowCellular
	default:
		return false
	}
}
