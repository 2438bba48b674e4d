// Package discovery advertises the streaming endpoint over mDNS so that
// openDAQ clients on the local network can find it without a configured
// address (§6).
//
// Grounded on original_source/embOS/discovery/openDAQ_discovery.c: the
// same service type, instance name, port and TXT record set, built
// here with github.com/grandcat/zeroconf instead of the IP stack's
// IP_MDNS_SERVER_* static config table. Config.TTL is only logged:
// zeroconf answers with its own fixed record TTL.
package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

// serviceType is the DNS-SD service openDAQ streaming endpoints register
// under (maps to the original's "_streaming-ws._tcp.local" PTR name).
const serviceType = "_streaming-ws._tcp"

const domain = "local."

// Config describes the device identity and transport details advertised
// over mDNS.
type Config struct {
	DeviceName   string
	ModelName    string
	SerialNumber string
	Port         int
	WebSocketURI string
	TTL          uint32
}

// Advertiser owns the running mDNS responder. Shutdown deregisters the
// service (IP_MDNS_SERVER_FLAG_FLUSH-equivalent teardown).
type Advertiser struct {
	server *zeroconf.Server
	log    zerolog.Logger
}

// Start registers the streaming endpoint's mDNS service and begins
// responding to queries. The returned Advertiser must be shut down on
// process exit.
func Start(cfg Config, logger zerolog.Logger) (*Advertiser, error) {
	server, err := zeroconf.Register(cfg.DeviceName, serviceType, domain, cfg.Port, buildTXTRecords(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("registering mdns service: %w", err)
	}

	logger.Info().
		Str("instance", cfg.DeviceName+"."+serviceType+"."+domain).
		Int("port", cfg.Port).
		Uint32("ttl", cfg.TTL).
		Msg("mdns advertisement started")

	return &Advertiser{server: server, log: logger}, nil
}

// buildTXTRecords produces the TXT record set the original advertises
// as five separate IP_DNS_SERVER_TYPE_TXT entries under the same name.
func buildTXTRecords(cfg Config) []string {
	return []string{
		"path=" + cfg.WebSocketURI,
		"caps=WS",
		"name=" + cfg.DeviceName,
		"model=" + cfg.ModelName,
		"serialNumber=" + cfg.SerialNumber,
	}
}

// Shutdown deregisters the service and stops responding to queries.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.log.Info().Msg("mdns advertisement stopped")
}
