// Package events defines event types and payloads for the Airlock event system.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Client session events
	EventClientConnected    EventType = "client.connected"
	EventClientDisconnected EventType = "client.disconnected"
	EventClientRejected     EventType = "client.rejected"

	// Game session events
	EventGameCreated   EventType = "game.created"
	EventGameStarted   EventType = "game.started"
	EventGameEnded     EventType = "game.ended"
	EventGameDestroyed EventType = "game.destroyed"
	EventPlayerJoined  EventType = "player.joined"
	EventPlayerLeft    EventType = "player.left"

	// Entity events
	EventPlayerMovement EventType = "player.movement"
	EventPlayerVent     EventType = "player.vent"

	// Moderation events
	EventCheatReported EventType = "anticheat.report"
	EventClientKicked  EventType = "client.kicked"

	// System events
	EventServerStatus  EventType = "server.status"
	EventCompatChanged EventType = "compat.changed"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// GameState represents the lifecycle phase of a game session.
type GameState int

const (
	GameStateNotStarted GameState = iota
	GameStateStarting
	GameStateStarted
	GameStateEnded
	GameStateDestroyed
)

// gameStateStrings maps GameState values to their lowercase JSON string representation.
var gameStateStrings = map[GameState]string{
	GameStateNotStarted: "not_started",
	GameStateStarting:   "starting",
	GameStateStarted:    "started",
	GameStateEnded:      "ended",
	GameStateDestroyed:  "destroyed",
}

// String returns the string representation of GameState.
func (s GameState) String() string {
	if str, ok := gameStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes GameState as a JSON string (e.g. "started").
func (s GameState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// SpawnState tracks the airship spawn maneuver of a player entity. It only
// moves forward.
type SpawnState int

const (
	SpawnStatePreSpawn SpawnState = iota
	SpawnStateSelectingSpawn
	SpawnStateSpawned
)

var spawnStateStrings = map[SpawnState]string{
	SpawnStatePreSpawn:       "pre_spawn",
	SpawnStateSelectingSpawn: "selecting_spawn",
	SpawnStateSpawned:        "spawned",
}

// String returns the string representation of SpawnState.
func (s SpawnState) String() string {
	if str, ok := spawnStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ClientPayload describes a registered client session.
type ClientPayload struct {
	ClientID   int32  `json:"client_id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	FriendCode string `json:"friend_code,omitempty"`
	Address    string `json:"address"`
	Modded     bool   `json:"modded"`
}

// ClientRejectedPayload is emitted when a handshake is refused.
type ClientRejectedPayload struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// GamePayload describes a game session.
type GamePayload struct {
	Code    string    `json:"code"`
	HostID  int32     `json:"host_id"`
	Players int       `json:"players"`
	MapID   byte      `json:"map_id"`
	State   GameState `json:"state"`
}

// PlayerPayload describes a client entering or leaving a game.
type PlayerPayload struct {
	Code     string `json:"code"`
	ClientID int32  `json:"client_id"`
	Name     string `json:"name"`
	IsHost   bool   `json:"is_host"`
}

// MovementPayload carries the last accepted position of a player entity.
type MovementPayload struct {
	Code     string  `json:"code"`
	ClientID int32   `json:"client_id"`
	NetID    uint32  `json:"net_id"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Snap     bool    `json:"snap"`
}

// VentPayload is emitted when a player snaps onto a vent.
type VentPayload struct {
	Code     string  `json:"code"`
	ClientID int32   `json:"client_id"`
	VentID   int     `json:"vent_id"`
	VentName string  `json:"vent_name"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
}

// CheatReportPayload is emitted for every cheat report.
type CheatReportPayload struct {
	ReportID     string `json:"report_id"`
	ClientID     int32  `json:"client_id"`
	Name         string `json:"name"`
	FriendCode   string `json:"friend_code,omitempty"`
	GameCode     string `json:"game_code,omitempty"`
	Call         string `json:"call"`
	Reason       string `json:"reason"`
	Count        int    `json:"count"`
	Disconnected bool   `json:"disconnected"`
}

// KickPayload is emitted when an operator or a rule removes a client.
type KickPayload struct {
	ClientID int32  `json:"client_id"`
	Reason   string `json:"reason"`
	By       string `json:"by"`
}

// CompatChangedPayload is emitted after a runtime compatibility table mutation.
type CompatChangedPayload struct {
	Action  string `json:"action"`
	Version string `json:"version"`
}

// StatusPayload is the periodic heartbeat of the relay.
type StatusPayload struct {
	Clients    int     `json:"clients"`
	Peers      int     `json:"peers"`
	Games      int     `json:"games"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   uint64  `json:"memory_mb"`
	UptimeSec  int64   `json:"uptime_sec"`
	Goroutines int     `json:"goroutines"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
