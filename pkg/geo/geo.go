// Package geo resolves client addresses to a coarse location and measures
// great-circle distances between logins.
package geo

import (
	_ "embed"
	"fmt"
	"math"
	"net/netip"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const earthRadiusKM = 6371.0

// Location is the coarse position of a client address.
type Location struct {
	Country string
	Lat     float64
	Lon     float64
}

// Locator maps an IP address to a location. ok is false when the address is unknown.
type Locator interface {
	Locate(ip string) (loc Location, ok bool)
}

type tableEntry struct {
	CIDR    string  `yaml:"cidr"`
	Country string  `yaml:"country"`
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
}

type tableFile struct {
	Networks []tableEntry `yaml:"networks"`
}

type network struct {
	prefix netip.Prefix
	loc    Location
}

// StaticLocator answers lookups from a fixed CIDR table; the most specific prefix wins.
type StaticLocator struct {
	networks []network
}

//go:embed default_table.yaml
var defaultTable []byte

// LoadStaticLocator reads the table at path, or the embedded table when path is empty.
func LoadStaticLocator(path string) (*StaticLocator, error) {
	raw := defaultTable
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read geo table: %w", err)
		}
		raw = data
	}
	return ParseStaticLocator(raw)
}

// ParseStaticLocator builds a locator from YAML table contents.
func ParseStaticLocator(raw []byte) (*StaticLocator, error) {
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse geo table: %w", err)
	}

	networks := make([]network, 0, len(file.Networks))
	for _, entry := range file.Networks {
		prefix, err := netip.ParsePrefix(entry.CIDR)
		if err != nil {
			return nil, fmt.Errorf("geo table entry %q: %w", entry.CIDR, err)
		}
		networks = append(networks, network{
			prefix: prefix.Masked(),
			loc:    Location{Country: entry.Country, Lat: entry.Lat, Lon: entry.Lon},
		})
	}
	sort.SliceStable(networks, func(i, j int) bool {
		return networks[i].prefix.Bits() > networks[j].prefix.Bits()
	})

	return &StaticLocator{networks: networks}, nil
}

// Locate implements Locator.
func (l *StaticLocator) Locate(ip string) (Location, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Location{}, false
	}
	addr = addr.Unmap()
	for _, n := range l.networks {
		if n.prefix.Contains(addr) {
			return n.loc, true
		}
	}
	return Location{}, false
}

// DistanceKM returns the haversine distance between two coordinates.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
