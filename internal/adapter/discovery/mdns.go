// Package discovery advertises and finds remotedev servers on the local
// network via mDNS/DNS-SD.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Defaults for the advertised service.
const (
	DefaultService  = "_remotedev._tcp"
	DefaultDomain   = "local."
	DefaultInstance = "remotedev"
	browseTimeout   = 3 * time.Second
)

// Config holds the service identity.
type Config struct {
	Instance string
	Service  string
	Domain   string
}

// Instance is one server found on the network.
type Instance struct {
	Name     string            `json:"name"`
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MDNS advertises this server and browses for others.
type MDNS struct {
	config Config
	logger *slog.Logger
}

// New creates an MDNS with defaults filled in.
func New(cfg Config, logger *slog.Logger) *MDNS {
	if cfg.Instance == "" {
		cfg.Instance = DefaultInstance
	}
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	return &MDNS{config: cfg, logger: logger.With(slog.String("component", "discovery"))}
}

// Advertise registers the HTTP port on the local network and blocks until
// ctx is cancelled. Call it in a goroutine.
func (d *MDNS) Advertise(ctx context.Context, port int, metadata map[string]string) error {
	server, err := zeroconf.Register(d.config.Instance, d.config.Service, d.config.Domain, port, txtRecords(metadata), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	d.logger.Info("mdns advertising", "instance", d.config.Instance, "service", d.config.Service, "port", port)
	<-ctx.Done()
	server.Shutdown()
	return nil
}

// Browse collects servers answering within timeout (default 3s).
func (d *MDNS) Browse(ctx context.Context, timeout time.Duration) ([]Instance, error) {
	if timeout <= 0 {
		timeout = browseTimeout
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		found []Instance
		wg    sync.WaitGroup
	)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			inst := toInstance(entry)
			mu.Lock()
			found = append(found, inst)
			mu.Unlock()
			d.logger.Debug("mdns found server", "name", inst.Name, "address", inst.Address)
		}
	}()

	if err := resolver.Browse(scanCtx, d.config.Service, d.config.Domain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-scanCtx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return slices.Clone(found), nil
}

func toInstance(entry *zeroconf.ServiceEntry) Instance {
	var address string
	if len(entry.AddrIPv4) > 0 {
		address = fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
	} else if len(entry.AddrIPv6) > 0 {
		address = fmt.Sprintf("[%s]:%d", entry.AddrIPv6[0], entry.Port)
	}
	return Instance{
		Name:     entry.ServiceRecord.Instance,
		Address:  address,
		Port:     entry.Port,
		Metadata: parseTXT(entry.Text),
	}
}

// txtRecords renders metadata as sorted key=value pairs.
func txtRecords(metadata map[string]string) []string {
	txt := make([]string, 0, len(metadata))
	for k, v := range metadata {
		txt = append(txt, k+"="+v)
	}
	slices.Sort(txt)
	return txt
}

func parseTXT(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		if k, v, ok := strings.Cut(t, "="); ok {
			m[k] = v
		}
	}
	return m
}
