// Package gazetteer holds the static table of map locations used to place
// markets and headlines on the terminal map.
package gazetteer

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locations.yaml
var locationsYAML []byte

// Coords is a map position.
type Coords struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a named map region and the keywords that point at it.
type Location struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Coords   Coords   `json:"coords"`
	Zoom     int      `json:"zoom"`
	Keywords []string `json:"keywords"`
}

type locationRecord struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Coords   []float64 `yaml:"coords"`
	Zoom     int       `yaml:"zoom"`
	Keywords []string  `yaml:"keywords"`
}

// Gazetteer is an immutable, ordered location table.
type Gazetteer struct {
	locations []Location
	byID      map[string]int
}

// Load parses the embedded location table.
func Load() (*Gazetteer, error) {
	return Parse(locationsYAML)
}

// MustLoad is Load for package-level initialization.
func MustLoad() *Gazetteer {
	g, err := Load()
	if err != nil {
		panic(err)
	}
	return g
}

// Parse builds a gazetteer from a YAML document with a top-level
// "locations" list.
func Parse(data []byte) (*Gazetteer, error) {
	var doc struct {
		Locations []locationRecord `yaml:"locations"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse locations: %w", err)
	}

	g := &Gazetteer{
		locations: make([]Location, 0, len(doc.Locations)),
		byID:      make(map[string]int, len(doc.Locations)),
	}
	for _, rec := range doc.Locations {
		if rec.ID == "" {
			return nil, fmt.Errorf("location without id: %q", rec.Name)
		}
		if _, dup := g.byID[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate location id %q", rec.ID)
		}
		if len(rec.Coords) != 2 {
			return nil, fmt.Errorf("location %q: coords must be [lat, lon]", rec.ID)
		}

		keywords := make([]string, 0, len(rec.Keywords))
		for _, kw := range rec.Keywords {
			if kw = strings.ToLower(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}

		g.byID[rec.ID] = len(g.locations)
		g.locations = append(g.locations, Location{
			ID:       rec.ID,
			Name:     rec.Name,
			Coords:   Coords{Lat: rec.Coords[0], Lon: rec.Coords[1]},
			Zoom:     rec.Zoom,
			Keywords: keywords,
		})
	}

	return g, nil
}

// All returns every location in table order.
func (g *Gazetteer) All() []Location {
	out := make([]Location, len(g.locations))
	copy(out, g.locations)
	return out
}

// Len returns the number of locations.
func (g *Gazetteer) Len() int {
	return len(g.locations)
}

// Lookup returns the location with the given id.
func (g *Gazetteer) Lookup(id string) (Location, bool) {
	i, ok := g.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Location{}, false
	}
	return g.locations[i], true
}

// Resolve finds a location from user input: an exact id first, then the
// first location whose keyword list contains the query, then the first
// location whose display name matches.
func (g *Gazetteer) Resolve(query string) (Location, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Location{}, false
	}
	if loc, ok := g.Lookup(q); ok {
		return loc, true
	}
	for _, loc := range g.locations {
		for _, kw := range loc.Keywords {
			if kw == q {
				return loc, true
			}
		}
	}
	for _, loc := range g.locations {
		if strings.ToLower(loc.Name) == q {
			return loc, true
		}
	}
	return Location{}, false
}

// IDs returns all location ids sorted alphabetically.
func (g *Gazetteer) IDs() []string {
	ids := make([]string, 0, len(g.locations))
	for _, loc := range g.locations {
		ids = append(ids, loc.ID)
	}
	sort.Strings(ids)
	return ids
}
