// Package geo resolves client IPs to a coarse location. Lookups are best
// effort: any failure is reported as an unknown location.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/model"
)

type Locator interface {
	// Lookup returns the location of ip and whether it is known.
	Lookup(ip string) (model.Geo, bool)
	Close() error
}

// New opens the GeoLite2 City database at cfg.DatabasePath, or returns a
// Nop locator when no path is configured.
func New(cfg *config.GeoConfig) (Locator, error) {
	if cfg.DatabasePath == "" {
		return Nop{}, nil
	}
	return OpenMaxMind(cfg.DatabasePath)
}

type Nop struct{}

func (Nop) Lookup(string) (model.Geo, bool) { return model.Geo{}, false }
func (Nop) Close() error                    { return nil }

type MaxMind struct {
	reader *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &MaxMind{reader: reader}, nil
}

func (m *MaxMind) Lookup(ip string) (model.Geo, bool) {
	addr := parsePublicIP(ip)
	if addr == nil {
		return model.Geo{}, false
	}

	record, err := m.reader.City(addr)
	if err != nil {
		return model.Geo{}, false
	}

	loc := model.Geo{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	if loc.IsZero() {
		return model.Geo{}, false
	}
	return loc, true
}

func (m *MaxMind) Close() error {
	return m.reader.Close()
}

// parsePublicIP returns nil for unparsable, loopback, private and other
// non-routable addresses, which no geo database can place.
func parsePublicIP(ip string) net.IP {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() {
		return nil
	}
	return addr
}
