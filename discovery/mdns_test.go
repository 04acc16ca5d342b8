package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestAdvertiseBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		InstanceName: "Market Gateway",
		Port:         8080,
		APIBase:      "/market",
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	broadcaster, err := Advertise(cfg)
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	if broadcaster == nil {
		t.Fatalf("expected broadcaster instance")
	}
	broadcaster.Stop()

	if gotInstance != "Market Gateway" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 8080 {
		t.Fatalf("unexpected port: %d", gotPort)
	}
	assertContainsTXT(t, gotTXT, "version=1")
	assertContainsTXT(t, gotTXT, "api_base=/market")
}

func TestAdvertiseValidatesConfig(t *testing.T) {
	if _, err := Advertise(Config{Port: 8080}); err == nil {
		t.Fatalf("expected missing instance name to fail")
	}
	if _, err := Advertise(Config{InstanceName: "x"}); err == nil {
		t.Fatalf("expected missing port to fail")
	}
}

func TestLookupReturnsFirstUsableEndpoint(t *testing.T) {
	cfg := Config{
		Timeout: time.Second,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			if service != DefaultService {
				t.Errorf("unexpected service %q", service)
			}
			entries <- &zeroconf.ServiceEntry{Port: 0}
			entries <- testServiceEntry("Market", 8000, "/", "fe80::1", "10.0.0.5")
			<-ctx.Done()
			return nil
		},
	}

	started := time.Now()
	endpoint, err := Lookup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if time.Since(started) >= time.Second {
		t.Fatalf("expected lookup to stop at the first endpoint")
	}
	if endpoint.Port != 8000 || endpoint.Instance != "Market" {
		t.Fatalf("unexpected endpoint: %+v", endpoint)
	}
	if endpoint.Addresses[0] != "10.0.0.5" {
		t.Fatalf("expected IPv4 address first, got %v", endpoint.Addresses)
	}
	if got := endpoint.BaseURL(); got != "http://10.0.0.5:8000" {
		t.Fatalf("unexpected base URL %q", got)
	}
}

func TestLookupTimesOutWithErrNotFound(t *testing.T) {
	cfg := Config{
		Timeout: 30 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	if _, err := Lookup(context.Background(), cfg); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupReportsBrowseFailure(t *testing.T) {
	cfg := Config{
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			return errors.New("no multicast interface")
		},
	}

	_, err := Lookup(context.Background(), cfg)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected browse error, got %v", err)
	}
}

func TestEndpointBaseURLIncludesAPIBase(t *testing.T) {
	endpoint := Endpoint{HostName: "market.local.", Port: 9000, APIBase: "backend/"}
	if got := endpoint.BaseURL(); got != "http://market.local:9000/backend" {
		t.Fatalf("unexpected base URL %q", got)
	}
}

func testServiceEntry(instance string, port int, apiBase string, ips ...string) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  DefaultService,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local.",
		Port:     port,
		Text: []string{
			"version=1",
			"api_base=" + apiBase,
		},
	}
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip.To4() != nil {
			entry.AddrIPv4 = append(entry.AddrIPv4, ip)
		} else {
			entry.AddrIPv6 = append(entry.AddrIPv6, ip)
		}
	}
	return entry
}

func assertContainsTXT(t *testing.T, txt []string, expected string) {
	t.Helper()
	for _, v := range txt {
		if v == expected {
			return
		}
	}
	t.Fatalf("missing TXT record %q in %v", expected, txt)
}
