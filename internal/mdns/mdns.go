// Package mdns advertises the status page on the local network with
// DNS-SD, so an operator can find the QR page of a headless bot without
// knowing its IP address.
//
// The advertisement carries:
//   - Service type: _wabot._tcp
//   - TXT records with the app version, instance name, engine client ID and path
//
// Advertising is off by default.
package mdns

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for wabot status pages.
const ServiceType = "_wabot._tcp"

const domain = "local."

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the status page port.
	Port int

	// Name is the instance name. Defaults to the system hostname.
	Name string

	// ClientID identifies which engine session this bot drives, so
	// several bots on one LAN can be told apart.
	ClientID string

	// Version is the wabot build version.
	Version string
}

// Advertiser manages the DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser. Nothing is sent until Start.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{
		config: cfg,
	}
}

// Start registers the service. Calling Start on a running advertiser is
// a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := instanceName(a.config.Name)
	server, err := zeroconf.Register(
		name,
		ServiceType,
		domain,
		a.config.Port,
		txtRecords(name, a.config),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call repeatedly or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

func instanceName(name string) string {
	if name != "" {
		return name
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "wabot"
}

// txtRecords builds the TXT strings. Each must stay under 255 bytes;
// empty values are left out.
func txtRecords(name string, cfg Config) []string {
	records := []string{
		"name=" + name,
		"path=/",
	}
	if cfg.Version != "" {
		records = append(records, "version="+cfg.Version)
	}
	if cfg.ClientID != "" {
		records = append(records, "client_id="+cfg.ClientID)
	}
	return records
}

// Service is a status page found by Discover.
type Service struct {
	Name     string
	Host     string
	Port     int
	ClientID string
	Version  string
	Path     string
}

// URL is the status page address.
func (s Service) URL() string {
	path := s.Path
	if path == "" {
		path = "/"
	}
	return "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) + path
}

// applyTXT fills s from TXT strings. Unknown keys are ignored.
func (s *Service) applyTXT(records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			s.Name = value
		case "client_id":
			s.ClientID = value
		case "version":
			s.Version = value
		case "path":
			s.Path = value
		}
	}
}

// Discover browses for wabot status pages until ctx ends.
func Discover(ctx context.Context) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		services []Service
		mu       sync.Mutex
		wg       sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			svc := Service{
				Name: entry.Instance,
				Port: entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				svc.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				svc.Host = entry.AddrIPv6[0].String()
			}
			svc.applyTXT(entry.Text)

			mu.Lock()
			services = append(services, svc)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes entries once ctx is done.
	<-ctx.Done()
	wg.Wait()

	return services, nil
}
