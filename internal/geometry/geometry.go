// Package geometry provides the static map data the movement checks need:
// vent entrances per map and the airship spawn points.
package geometry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/airlock-project/airlock/internal/protocol"
)

// MapID is the map selected in the game options.
type MapID byte

const (
	MapSkeld   MapID = 0
	MapMira    MapID = 1
	MapPolus   MapID = 2
	MapDleks   MapID = 3
	MapAirship MapID = 4
	MapFungle  MapID = 5
)

var mapNames = [...]string{"skeld", "mira", "polus", "dleks", "airship", "fungle"}

func (m MapID) String() string {
	if int(m) < len(mapNames) {
		return mapNames[m]
	}
	return fmt.Sprintf("map(%d)", byte(m))
}

// Vent is one vent entrance.
type Vent struct {
	ID       int              `yaml:"id" json:"id"`
	Name     string           `yaml:"name" json:"name"`
	Position protocol.Vector2 `yaml:"position" json:"position"`
}

// Map is the geometry of one map.
type Map struct {
	ID             MapID              `yaml:"id" json:"id"`
	Name           string             `yaml:"name" json:"name"`
	MirrorOf       *MapID             `yaml:"mirror_of,omitempty" json:"-"`
	Vents          []Vent             `yaml:"vents" json:"vents"`
	PreSpawn       *protocol.Vector2  `yaml:"pre_spawn,omitempty" json:"pre_spawn,omitempty"`
	SpawnLocations []protocol.Vector2 `yaml:"spawn_locations,omitempty" json:"spawn_locations,omitempty"`
}

type document struct {
	Maps []Map `yaml:"maps"`
}

// Provider answers geometry lookups by map.
type Provider interface {
	// Vents returns the vent entrances of m; ok is false for an unknown map.
	Vents(m MapID) (vents []Vent, ok bool)
	// PreSpawnLocation returns the off-screen point clients snap to before
	// choosing a spawn; ok is false when the map has no spawn selection.
	PreSpawnLocation(m MapID) (pos protocol.Vector2, ok bool)
	SpawnLocations(m MapID) []protocol.Vector2
}

//go:embed maps.yaml
var defaultMaps []byte

// Table is a static Provider.
type Table struct {
	maps map[MapID]*Map
}

// Default returns the built-in table.
func Default() *Table {
	t, err := Parse(defaultMaps)
	if err != nil {
		panic(fmt.Sprintf("geometry: embedded maps.yaml: %v", err))
	}
	return t
}

// Load reads a table from path and merges it over the built-in one.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geometry file %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geometry file %s: %w", path, err)
	}
	t := Default()
	for id, m := range override.maps {
		t.maps[id] = m
	}
	return t, nil
}

// Parse decodes a YAML geometry document and resolves mirrored maps.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	t := &Table{maps: make(map[MapID]*Map, len(doc.Maps))}
	for i := range doc.Maps {
		m := doc.Maps[i]
		if _, dup := t.maps[m.ID]; dup {
			return nil, fmt.Errorf("map %d listed twice", m.ID)
		}
		t.maps[m.ID] = &m
	}

	for _, m := range t.maps {
		if m.MirrorOf == nil {
			continue
		}
		src, ok := t.maps[*m.MirrorOf]
		if !ok || src.MirrorOf != nil {
			return nil, fmt.Errorf("map %d mirrors unknown map %d", m.ID, *m.MirrorOf)
		}
		m.Vents = make([]Vent, len(src.Vents))
		for i, v := range src.Vents {
			v.Position.X = -v.Position.X
			m.Vents[i] = v
		}
	}
	return t, nil
}

// Vents implements Provider.
func (t *Table) Vents(id MapID) ([]Vent, bool) {
	m, ok := t.maps[id]
	if !ok {
		return nil, false
	}
	return m.Vents, true
}

// PreSpawnLocation implements Provider.
func (t *Table) PreSpawnLocation(id MapID) (protocol.Vector2, bool) {
	m, ok := t.maps[id]
	if !ok || m.PreSpawn == nil {
		return protocol.Vector2{}, false
	}
	return *m.PreSpawn, true
}

// SpawnLocations implements Provider.
func (t *Table) SpawnLocations(id MapID) []protocol.Vector2 {
	if m, ok := t.maps[id]; ok {
		return m.SpawnLocations
	}
	return nil
}

// Maps lists every map ordered by id.
func (t *Table) Maps() []Map {
	out := make([]Map, 0, len(t.maps))
	for _, m := range t.maps {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
