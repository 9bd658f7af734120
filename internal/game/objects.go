package game

import (
	"github.com/airlock-project/airlock/internal/geometry"
	"github.com/airlock-project/airlock/internal/transform"
)

// SpawnType is the prefab id of a Spawn message.
type SpawnType uint32

const (
	SpawnSkeldShip     SpawnType = 0
	SpawnMeetingHud    SpawnType = 1
	SpawnLobby         SpawnType = 2
	SpawnGameData      SpawnType = 3
	SpawnPlayerControl SpawnType = 4
	SpawnMiraShip      SpawnType = 5
	SpawnPolusShip     SpawnType = 6
	SpawnDleksShip     SpawnType = 7
	SpawnAirshipShip   SpawnType = 8
	SpawnHideAndSeek   SpawnType = 9
	SpawnNormalGame    SpawnType = 10
	SpawnPrespawnStep  SpawnType = 11
	SpawnVoteBanSystem SpawnType = 12
	SpawnFungleShip    SpawnType = 13
)

// shipMaps maps ship prefabs to the map they load.
var shipMaps = map[SpawnType]geometry.MapID{
	SpawnSkeldShip:   geometry.MapSkeld,
	SpawnMiraShip:    geometry.MapMira,
	SpawnPolusShip:   geometry.MapPolus,
	SpawnDleksShip:   geometry.MapDleks,
	SpawnAirshipShip: geometry.MapAirship,
	SpawnFungleShip:  geometry.MapFungle,
}

// Player prefab component order.
const (
	componentPlayerControl = iota
	componentPlayerPhysics
	componentNetworkTransform
	playerComponents
)

// ownerHost marks objects spawned on behalf of whoever hosts the game.
const ownerHost int32 = -2

// RoleType is the gameplay role assigned by SetRole.
type RoleType uint16

const (
	RoleCrewmate      RoleType = 0
	RoleImpostor      RoleType = 1
	RoleScientist     RoleType = 2
	RoleEngineer      RoleType = 3
	RoleGuardianAngel RoleType = 4
	RoleShapeshifter  RoleType = 5
	RoleCrewmateGhost RoleType = 6
	RoleImpostorGhost RoleType = 7
	RoleNoisemaker    RoleType = 8
	RolePhantom       RoleType = 9
	RoleTracker       RoleType = 10
)

// CanVent reports whether the role may use vents.
func (r RoleType) CanVent() bool {
	switch r {
	case RoleImpostor, RoleEngineer, RoleShapeshifter, RolePhantom:
		return true
	}
	return false
}

// Object is a networked object of a game. It implements rpc.Entity.
type Object struct {
	netID uint32
	owner int32
	spawn SpawnType
	// Transform is set for the network transform of a player.
	Transform *transform.Transform
}

// NetID implements rpc.Entity.
func (o *Object) NetID() uint32 { return o.netID }

// OwnerID implements rpc.Entity.
func (o *Object) OwnerID() int32 { return o.owner }

// SpawnType returns the prefab the object belongs to.
func (o *Object) SpawnType() SpawnType { return o.spawn }
