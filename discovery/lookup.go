package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Lookup browses for the configured service and returns the first usable
// endpoint. It fails with ErrNotFound when the window closes empty.
func Lookup(ctx context.Context, config Config) (Endpoint, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return Endpoint{}, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	found := make(chan Endpoint, 1)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				endpoint, ok := parseEntry(entry)
				if !ok {
					continue
				}
				found <- endpoint
				cancel()
				return
			}
		}
	}()

	browseErr := browse(scanCtx, cfg.Service, cfg.Domain, entries)
	if browseErr != nil && !errors.Is(browseErr, context.Canceled) && !errors.Is(browseErr, context.DeadlineExceeded) {
		cancel()
		<-collectorDone
		return Endpoint{}, fmt.Errorf("browse mDNS: %w", browseErr)
	}

	<-scanCtx.Done()
	<-collectorDone

	select {
	case endpoint := <-found:
		return endpoint, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return Endpoint{}, err
	}
	return Endpoint{}, ErrNotFound
}

func parseEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry.Port <= 0 {
		return Endpoint{}, false
	}
	txt := txtToMap(entry.Text)

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	// IPv4 first, then lexical.
	sort.SliceStable(addresses, func(i, j int) bool {
		iv4 := net.ParseIP(addresses[i]).To4() != nil
		jv4 := net.ParseIP(addresses[j]).To4() != nil
		if iv4 != jv4 {
			return iv4
		}
		return addresses[i] < addresses[j]
	})

	if len(addresses) == 0 && strings.TrimSpace(entry.HostName) == "" {
		return Endpoint{}, false
	}

	return Endpoint{
		Instance:  strings.TrimSpace(entry.Instance),
		HostName:  entry.HostName,
		Port:      entry.Port,
		Addresses: addresses,
		APIBase:   txt["api_base"],
		Version:   version,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
