// Package mods decodes the optional mod handshake that modded clients append
// to their Hello and checks that lobby members run compatible mod sets.
package mods

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/airlock-project/airlock/internal/protocol"
)

// Magic occupies the upper 56 bits of the little-endian handshake header.
const Magic uint64 = 0x72656163746f72

// ProtocolVersion is the low byte of the handshake header.
type ProtocolVersion byte

const (
	ProtocolV2     ProtocolVersion = 1
	ProtocolV3     ProtocolVersion = 2 // adds registries and the mod list
	ProtocolLatest                 = ProtocolV3
)

// HasRegistries reports whether the handshake carries a mod list.
func (v ProtocolVersion) HasRegistries() bool {
	return v >= ProtocolV3
}

// Flags describe how a mod must be distributed across a lobby.
type Flags uint16

const (
	FlagNone                Flags = 0
	FlagRequireOnAllClients Flags = 1 << 0
)

// Mod identifies one client-side mod.
type Mod struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Flags   Flags  `json:"flags"`
	// Name is only sent for mods required on all clients.
	Name string `json:"name,omitempty"`
}

// Equal compares by id and version.
func (m Mod) Equal(o Mod) bool {
	return m.ID == o.ID && m.Version == o.Version
}

// RequiredOnAllClients reports whether every lobby member must run the mod.
func (m Mod) RequiredOnAllClients() bool {
	return m.Flags&FlagRequireOnAllClients != 0
}

func (m Mod) String() string {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return fmt.Sprintf("%s (%s) %s", name, m.ID, m.Version)
}

// Handshake is the decoded mod declaration of one connection.
type Handshake struct {
	Version ProtocolVersion
	Mods    []Mod
}

// Decode parses the bytes trailing a client handshake. ok is false when the
// trailer is absent or does not start with the magic, which marks a vanilla client.
func Decode(trailer []byte) (h *Handshake, ok bool, err error) {
	if len(trailer) < 8 {
		return nil, false, nil
	}
	header := binary.LittleEndian.Uint64(trailer[:8])
	if header>>8 != Magic {
		return nil, false, nil
	}

	h = &Handshake{Version: ProtocolVersion(header & 0xFF)}
	if !h.Version.HasRegistries() {
		return h, true, nil
	}

	r := protocol.NewMessageReader(0, trailer[8:])
	count, err := r.ReadPackedInt32()
	if err != nil {
		return nil, true, fmt.Errorf("mod count: %w", err)
	}
	if count < 0 || int(count) > r.Remaining() {
		return nil, true, fmt.Errorf("mod count %d exceeds payload", count)
	}

	h.Mods = make([]Mod, 0, count)
	for i := int32(0); i < count; i++ {
		var m Mod
		if m.ID, err = r.ReadString(); err != nil {
			return nil, true, fmt.Errorf("mod %d id: %w", i, err)
		}
		if m.Version, err = r.ReadString(); err != nil {
			return nil, true, fmt.Errorf("mod %d version: %w", i, err)
		}
		flags, err := r.ReadUint16()
		if err != nil {
			return nil, true, fmt.Errorf("mod %d flags: %w", i, err)
		}
		m.Flags = Flags(flags)
		if m.RequiredOnAllClients() {
			if m.Name, err = r.ReadString(); err != nil {
				return nil, true, fmt.Errorf("mod %d name: %w", i, err)
			}
		}
		h.Mods = append(h.Mods, m)
	}
	return h, true, nil
}

// Encode writes h in the layout Decode expects.
func Encode(w *protocol.MessageWriter, h *Handshake) {
	w.WriteUint64(Magic<<8 | uint64(h.Version))
	if !h.Version.HasRegistries() {
		return
	}
	w.WritePackedInt32(int32(len(h.Mods)))
	for _, m := range h.Mods {
		w.WriteString(m.ID)
		w.WriteString(m.Version)
		w.WriteUint16(uint16(m.Flags))
		if m.RequiredOnAllClients() {
			w.WriteString(m.Name)
		}
	}
}

// ReactorFlag tags the sub-messages of the reactor root message.
type ReactorFlag byte

const ReactorHandshake ReactorFlag = 0

// WriteServerHandshake appends the reactor reply announcing the server and
// the number of mods it observed on the connection.
func WriteServerHandshake(w *protocol.MessageWriter, serverName, serverVersion string, modCount int) error {
	w.StartMessage(byte(protocol.FlagReactor))
	_ = w.WriteByte(byte(ReactorHandshake))
	w.WriteString(serverName)
	w.WriteString(serverVersion)
	w.WritePackedInt32(int32(modCount))
	return w.EndMessage()
}

// Validate checks that client and host agree on every mod either side
// requires on all clients. The reason names the missing mods.
func Validate(client, host []Mod) (bool, string) {
	var missing []string

	for _, hm := range host {
		if hm.RequiredOnAllClients() && !contains(client, hm) {
			missing = append(missing, "you are missing "+hm.String())
		}
	}
	for _, cm := range client {
		if cm.RequiredOnAllClients() && !contains(host, cm) {
			missing = append(missing, "host is missing "+cm.String())
		}
	}

	if len(missing) == 0 {
		return true, ""
	}
	return false, "Mod mismatch: " + strings.Join(missing, ", ")
}

func contains(list []Mod, m Mod) bool {
	for _, candidate := range list {
		if candidate.Equal(m) {
			return true
		}
	}
	return false
}
