package geometry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/airlock-project/airlock/internal/protocol"
)

func TestDefaultTable(t *testing.T) {
	table := Default()

	tests := []struct {
		id        MapID
		wantVents int
	}{
		{MapSkeld, 14},
		{MapMira, 11},
		{MapPolus, 12},
		{MapDleks, 14},
		{MapAirship, 12},
	}
	for _, tc := range tests {
		vents, ok := table.Vents(tc.id)
		if !ok || len(vents) != tc.wantVents {
			t.Errorf("Vents(%d) = %d vents, %v; want %d", tc.id, len(vents), ok, tc.wantVents)
		}
	}

	if _, ok := table.Vents(MapFungle); ok {
		t.Error("Vents(fungle) reported known geometry")
	}
}

func TestMirroredMap(t *testing.T) {
	table := Default()
	skeld, _ := table.Vents(MapSkeld)
	dleks, _ := table.Vents(MapDleks)
	for i := range skeld {
		if dleks[i].Position.X != -skeld[i].Position.X || dleks[i].Position.Y != skeld[i].Position.Y {
			t.Errorf("vent %d: dleks %v is not skeld %v mirrored", i, dleks[i].Position, skeld[i].Position)
		}
	}
}

func TestAirshipSpawns(t *testing.T) {
	table := Default()
	pre, ok := table.PreSpawnLocation(MapAirship)
	if !ok || pre != (protocol.Vector2{X: -25, Y: 40}) {
		t.Errorf("PreSpawnLocation(airship) = %v, %v", pre, ok)
	}
	if n := len(table.SpawnLocations(MapAirship)); n != 6 {
		t.Errorf("SpawnLocations(airship) = %d, want 6", n)
	}
	if _, ok := table.PreSpawnLocation(MapSkeld); ok {
		t.Error("skeld has a pre-spawn location")
	}
}

func TestLoadOverridesSingleMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps.yaml")
	doc := `
maps:
  - id: 5
    name: fungle
    vents:
      - {id: 0, name: Jungle, position: {x: 1.5, y: -2}}
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	vents, ok := table.Vents(MapFungle)
	if !ok || len(vents) != 1 || vents[0].Position != (protocol.Vector2{X: 1.5, Y: -2}) {
		t.Errorf("Vents(fungle) = %+v, %v", vents, ok)
	}
	if _, ok := table.Vents(MapSkeld); !ok {
		t.Error("override dropped the built-in skeld table")
	}
	if len(table.Maps()) != 6 {
		t.Errorf("Maps() = %d entries, want 6", len(table.Maps()))
	}
}

func TestParseRejectsBadMirror(t *testing.T) {
	if _, err := Parse([]byte("maps:\n  - id: 3\n    mirror_of: 9\n")); err == nil {
		t.Error("Parse() accepted a mirror of an unknown map")
	}
	if _, err := Parse([]byte("maps:\n  - id: 1\n  - id: 1\n")); err == nil {
		t.Error("Parse() accepted a duplicate map id")
	}
}
