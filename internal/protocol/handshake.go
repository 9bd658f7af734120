package protocol

import (
	"fmt"

	"github.com/airlock-project/airlock/internal/version"
)

// PlatformData is the nested platform descriptor sent in the handshake.
type PlatformData struct {
	Platform  Platform `json:"platform"`
	Name      string   `json:"name"`
	AccountID uint64   `json:"account_id,omitempty"` // Xbox and Playstation only
}

// Handshake is the client's opening payload carried by the Hello packet.
type Handshake struct {
	Version  version.GameVersion
	Name     string
	Token    string // token/DTLS mode
	LastID   uint32 // plain UDP mode
	Language Language
	ChatMode QuickChatMode
	// Platform is nil when the client omitted the descriptor.
	Platform   *PlatformData
	FriendCode string
	// Extra holds trailing bytes after the handshake, normally a mod handshake.
	Extra []byte
}

// DecodeHandshake reads a handshake from r, which must be positioned just after
// the Hazel version byte of the Hello packet. In token mode the discriminator is
// a matchmaker token string, otherwise a uint32 last-authentication id.
func DecodeHandshake(r *MessageReader, tokenMode bool) (*Handshake, error) {
	h := &Handshake{}
	var err error

	if h.Version, err = r.ReadGameVersion(); err != nil {
		return nil, fmt.Errorf("handshake version: %w", err)
	}
	if h.Name, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("handshake name: %w", err)
	}
	if tokenMode {
		if h.Token, err = r.ReadString(); err != nil {
			return nil, fmt.Errorf("handshake token: %w", err)
		}
	} else {
		if h.LastID, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("handshake last id: %w", err)
		}
	}
	lang, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("handshake language: %w", err)
	}
	h.Language = Language(lang)
	mode, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("handshake chat mode: %w", err)
	}
	h.ChatMode = QuickChatMode(mode)

	if r.Remaining() == 0 {
		return h, nil
	}

	pr, err := r.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("handshake platform: %w", err)
	}
	h.Platform, err = decodePlatform(pr)
	if err != nil {
		return nil, err
	}

	if r.Remaining() > 0 {
		if h.FriendCode, err = r.ReadString(); err != nil {
			return nil, fmt.Errorf("handshake friend code: %w", err)
		}
	}
	if r.Remaining() > 0 {
		h.Extra = r.Rest()
	}
	return h, nil
}

func decodePlatform(r *MessageReader) (*PlatformData, error) {
	p := &PlatformData{Platform: Platform(r.Tag())}
	var err error
	if p.Name, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("platform name: %w", err)
	}
	if p.Platform.HasAccountID() {
		if p.AccountID, err = r.ReadUint64(); err != nil {
			return nil, fmt.Errorf("platform account id: %w", err)
		}
	}
	return p, nil
}

// EncodeHandshake writes h in the layout DecodeHandshake expects.
func EncodeHandshake(w *MessageWriter, h *Handshake, tokenMode bool) error {
	w.WriteGameVersion(h.Version)
	w.WriteString(h.Name)
	if tokenMode {
		w.WriteString(h.Token)
	} else {
		w.WriteUint32(h.LastID)
	}
	w.WriteUint32(uint32(h.Language))
	_ = w.WriteByte(byte(h.ChatMode))
	if h.Platform == nil {
		return nil
	}

	w.StartMessage(byte(h.Platform.Platform))
	w.WriteString(h.Platform.Name)
	if h.Platform.Platform.HasAccountID() {
		w.WriteUint64(h.Platform.AccountID)
	}
	if err := w.EndMessage(); err != nil {
		return err
	}
	w.WriteString(h.FriendCode)
	w.WriteBytes(h.Extra)
	return nil
}

// BuildHello builds a complete Hello packet for h. Used by tests and tooling.
func BuildHello(h *Handshake, tokenMode bool) ([]byte, error) {
	w := NewMessageWriter(PacketHello)
	_ = w.WriteByte(HazelVersion)
	if err := EncodeHandshake(w, h, tokenMode); err != nil {
		return nil, err
	}
	return w.Bytes()
}
