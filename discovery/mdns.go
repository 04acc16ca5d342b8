// Package discovery finds a marketplace API endpoint advertised over mDNS
// and lets a gateway advertise itself.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_wastechat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultTimeout bounds one lookup.
	DefaultTimeout = 3 * time.Second
)

// ErrNotFound means no endpoint answered within the lookup window.
var ErrNotFound = errors.New("no advertised endpoint found")

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertising and lookup.
type Config struct {
	Service string
	Domain  string
	Version int
	Timeout time.Duration

	// InstanceName, Port and APIBase describe what Advertise publishes.
	InstanceName string
	Port         int
	// APIBase is a path prefix in front of the /api routes, for backends
	// mounted below the host root.
	APIBase string

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForAdvertise() error {
	if strings.TrimSpace(c.InstanceName) == "" {
		return errors.New("instance name is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be > 0")
	}
	return nil
}

// Broadcaster advertises a gateway via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// Advertise registers the service and starts answering queries.
func Advertise(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForAdvertise(); err != nil {
		return nil, err
	}

	txt := []string{
		"version=" + strconv.Itoa(cfg.Version),
		"api_base=" + cfg.APIBase,
	}

	server, err := cfg.registerFn(cfg.InstanceName, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

// Stop stops advertising.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

// Endpoint is one advertised API location.
type Endpoint struct {
	Instance  string
	HostName  string
	Port      int
	Addresses []string
	APIBase   string
	Version   int
}

// BaseURL returns the backend root for the endpoint, preferring a resolved
// address over the advertised host name.
func (e Endpoint) BaseURL() string {
	host := strings.TrimSuffix(e.HostName, ".")
	if len(e.Addresses) > 0 {
		host = e.Addresses[0]
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(e.Port)),
		Path:   "/" + strings.Trim(e.APIBase, "/"),
	}
	return strings.TrimRight(u.String(), "/")
}
