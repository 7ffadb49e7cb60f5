package tracking

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoProvider resolves an IP address to a country code for click
// enrichment. Implementations may return an empty string when the IP
// cannot be resolved.
type GeoProvider interface {
	Country(ip string) (string, error)
	Close() error
}

// MaxMindGeoProvider implements GeoProvider using a MaxMind GeoLite2
// database.
type MaxMindGeoProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindGeoProvider opens the GeoIP database at the given path.
func NewMaxMindGeoProvider(dbPath string) (*MaxMindGeoProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindGeoProvider{reader: reader}, nil
}

// Country returns the ISO country code for an IP address.
func (m *MaxMindGeoProvider) Country(ip string) (string, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.Country(parsedIP)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}

// Close closes the GeoIP database.
func (m *MaxMindGeoProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
