// Package compat decides which client versions may connect to the server and
// which versions may share a lobby.
package compat

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/version"
)

// Result is the outcome of a connection compatibility check.
type Result int

const (
	Compatible Result = iota
	ClientTooOld
	ServerTooOld
	Unknown
)

func (r Result) String() string {
	switch r {
	case Compatible:
		return "compatible"
	case ClientTooOld:
		return "client_too_old"
	case ServerTooOld:
		return "server_too_old"
	default:
		return "unknown"
	}
}

// JoinError explains why a client may not join a host's lobby.
type JoinError int

const (
	JoinErrorNone JoinError = iota
	InvalidClient
	ClientOutdated
	ClientTooNew
)

func (e JoinError) String() string {
	switch e {
	case JoinErrorNone:
		return "none"
	case InvalidClient:
		return "invalid_client"
	case ClientOutdated:
		return "client_outdated"
	case ClientTooNew:
		return "client_too_new"
	default:
		return "unknown"
	}
}

var (
	// ErrVersionClaimed is returned when a version already belongs to a group.
	ErrVersionClaimed = errors.New("game version already belongs to a compatibility group")
	// ErrGroupNotRegistered is returned when mutating a group the resolver does not own.
	ErrGroupNotRegistered = errors.New("compatibility group is not registered")
)

// HostOnlySentinel is the version used by host-only mods. It shares a group
// with its release but never widens the supported range.
var HostOnlySentinel = version.New(2222, 0, 0)

// DefaultGroups is the compatibility table the server starts with.
var DefaultGroups = [][]version.GameVersion{
	{version.New(2022, 11, 1)},
	{version.New(2022, 11, 9)},
	{version.New(2022, 12, 2)},
	{version.New(2023, 1, 11), version.New(2023, 3, 13), version.New(2023, 4, 21)},
	{version.New(2023, 5, 20), HostOnlySentinel},
	{version.New(2023, 10, 1)},
}

// Group is a set of mutually joinable versions. Identity is by pointer.
type Group struct {
	r        *Resolver
	versions []version.GameVersion
}

// Versions returns a snapshot of the group's members.
func (g *Group) Versions() []version.GameVersion {
	g.r.mu.RLock()
	defer g.r.mu.RUnlock()
	out := make([]version.GameVersion, len(g.versions))
	copy(out, g.versions)
	return out
}

// Resolver owns the compatibility groups and the supported version bounds.
// It is safe for concurrent use.
type Resolver struct {
	mu      sync.RWMutex
	logger  zerolog.Logger
	groups  []*Group
	support map[version.GameVersion]*Group
	lowest  version.GameVersion
	highest version.GameVersion
	labels  map[version.GameVersion]string
}

// NewResolver creates a resolver seeded with the given groups. Seeding is not
// logged as a runtime mutation.
func NewResolver(logger zerolog.Logger, groups ...[]version.GameVersion) (*Resolver, error) {
	r := &Resolver{
		logger:  logger,
		support: make(map[version.GameVersion]*Group),
		lowest:  version.GameVersion(math.MaxInt32),
		highest: 0,
		labels:  make(map[version.GameVersion]string),
	}
	for _, versions := range groups {
		if _, err := r.addGroup(versions); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewDefaultResolver creates a resolver seeded with DefaultGroups.
func NewDefaultResolver(logger zerolog.Logger) *Resolver {
	r, err := NewResolver(logger, DefaultGroups...)
	if err != nil {
		// DefaultGroups is disjoint.
		panic(err)
	}
	return r
}

func (r *Resolver) lookup(v version.GameVersion) *Group {
	return r.support[v.Normalize()]
}

// CanConnectToServer classifies a client version against the supported table.
func (r *Resolver) CanConnectToServer(v version.GameVersion) Result {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.lookup(v) != nil {
		return Compatible
	}
	if v < r.lowest {
		return ClientTooOld
	}
	if v > r.highest {
		return ServerTooOld
	}
	return Unknown
}

// CanJoinGame reports whether a client on clientVersion may join a lobby hosted
// on hostVersion.
func (r *Resolver) CanJoinGame(hostVersion, clientVersion version.GameVersion) (bool, JoinError) {
	if hostVersion == clientVersion {
		return true, JoinErrorNone
	}

	r.mu.RLock()
	host := r.lookup(hostVersion)
	player := r.lookup(clientVersion)
	r.mu.RUnlock()

	if host == nil || player == nil {
		return false, InvalidClient
	}
	if host == player {
		return true, JoinErrorNone
	}
	if clientVersion < hostVersion {
		return false, ClientOutdated
	}
	return false, ClientTooNew
}

// AddGroup registers a new group. It fails without side effects if any of the
// versions is already claimed.
func (r *Resolver) AddGroup(versions ...version.GameVersion) (*Group, error) {
	r.logger.Warn().
		Strs("versions", labels(versions)).
		Msg("compatibility group added at runtime, lobbies may mix versions unexpectedly")
	return r.addGroup(versions)
}

func (r *Resolver) addGroup(versions []version.GameVersion) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[version.GameVersion]bool, len(versions))
	for _, v := range versions {
		if _, ok := r.support[v]; ok || seen[v] {
			return nil, fmt.Errorf("%w: %s", ErrVersionClaimed, v)
		}
		seen[v] = true
	}

	g := &Group{r: r}
	r.groups = append(r.groups, g)
	for _, v := range versions {
		r.claim(g, v)
	}
	return g, nil
}

// AddVersionToGroup adds v to an existing group. Adding a version the group
// already holds is a no-op.
func (r *Resolver) AddVersionToGroup(g *Group, v version.GameVersion) error {
	r.logger.Warn().
		Str("version", v.String()).
		Msg("supported version added at runtime, lobbies may mix versions unexpectedly")

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registered(g) {
		return ErrGroupNotRegistered
	}
	if owner, ok := r.support[v]; ok {
		if owner == g {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrVersionClaimed, v)
	}
	r.claim(g, v)
	return nil
}

// RemoveVersion drops v from its group. Removing the last member retires the
// group. It reports false when v was not supported.
func (r *Resolver) RemoveVersion(v version.GameVersion) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.support[v]
	if !ok {
		return false
	}
	delete(r.support, v)
	for i, member := range g.versions {
		if member == v {
			g.versions = append(g.versions[:i], g.versions[i+1:]...)
			break
		}
	}
	if len(g.versions) == 0 {
		for i, candidate := range r.groups {
			if candidate == g {
				r.groups = append(r.groups[:i], r.groups[i+1:]...)
				break
			}
		}
	}
	r.recomputeBounds()

	r.logger.Warn().
		Str("version", v.String()).
		Bool("group_retired", len(g.versions) == 0).
		Msg("supported version removed at runtime")
	return true
}

// claim must be called with the write lock held.
func (r *Resolver) claim(g *Group, v version.GameVersion) {
	g.versions = append(g.versions, v)
	r.support[v] = g
	r.widen(v)
}

func (r *Resolver) widen(v version.GameVersion) {
	if v == HostOnlySentinel {
		return
	}
	if v < r.lowest {
		r.lowest = v
	}
	if v > r.highest {
		r.highest = v
	}
}

func (r *Resolver) recomputeBounds() {
	r.lowest = version.GameVersion(math.MaxInt32)
	r.highest = 0
	for v := range r.support {
		r.widen(v)
	}
}

func (r *Resolver) registered(g *Group) bool {
	for _, candidate := range r.groups {
		if candidate == g {
			return true
		}
	}
	return false
}

// Groups returns the registered groups in registration order.
func (r *Resolver) Groups() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Group, len(r.groups))
	copy(out, r.groups)
	return out
}

// Bounds returns the lowest and highest supported versions. ok is false when no
// version contributes to the range.
func (r *Resolver) Bounds() (lowest, highest version.GameVersion, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lowest, r.highest, r.highest != 0
}

// SetLabel overrides the display name of a version.
func (r *Resolver) SetLabel(v version.GameVersion, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels[v] = label
}

// VersionLabel returns the display name players recognise for v.
func (r *Resolver) VersionLabel(v version.GameVersion) string {
	r.mu.RLock()
	label, ok := r.labels[v.Normalize()]
	r.mu.RUnlock()
	if ok {
		return label
	}
	return version.Label(v)
}

// SupportedRange renders the supported bounds as "first - last".
func (r *Resolver) SupportedRange() string {
	lowest, highest, ok := r.Bounds()
	if !ok {
		return "none"
	}
	return fmt.Sprintf("%s - %s", r.VersionLabel(lowest), r.VersionLabel(highest))
}

// Snapshot is a read-only view of one group, used by the API and console.
type Snapshot struct {
	Index    int      `json:"index"`
	Versions []string `json:"versions"`
	Labels   []string `json:"labels"`
}

// Snapshot returns every group with its versions sorted ascending.
func (r *Resolver) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.groups))
	for i, g := range r.groups {
		versions := make([]version.GameVersion, len(g.versions))
		copy(versions, g.versions)
		sort.Slice(versions, func(a, b int) bool { return versions[a] < versions[b] })

		s := Snapshot{Index: i}
		for _, v := range versions {
			s.Versions = append(s.Versions, v.String())
			if label, ok := r.labels[v]; ok {
				s.Labels = append(s.Labels, label)
			} else {
				s.Labels = append(s.Labels, version.Label(v))
			}
		}
		out = append(out, s)
	}
	return out
}

func labels(versions []version.GameVersion) []string {
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.String()
	}
	return out
}
