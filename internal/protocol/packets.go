// Package protocol implements the Hazel wire codec spoken by game clients:
// the outer packet header, nested length-prefixed messages, packed integers
// and the handshake payloads. Primitive fields are little-endian; nested
// messages carry a 2-byte little-endian body length followed by a 1-byte tag.
package protocol

import "fmt"

// PacketType is the first byte of every datagram.
type PacketType byte

const (
	PacketUnreliable PacketType = 0x00
	PacketReliable   PacketType = 0x01 // followed by a 2-byte sequence number
	PacketHello      PacketType = 0x08 // reliable; carries the client handshake
	PacketDisconnect PacketType = 0x09
	PacketAck        PacketType = 0x0A // 2-byte id + recent-packets bitfield
	PacketFragment   PacketType = 0x0B // unused by clients, rejected
	PacketPing       PacketType = 0x0C // reliable keepalive
)

// IsReliable reports whether packets of this type carry a sequence number.
func (t PacketType) IsReliable() bool {
	return t == PacketReliable || t == PacketHello || t == PacketPing
}

// HeaderSize returns the outer header length for the packet type.
func (t PacketType) HeaderSize() int {
	if t.IsReliable() {
		return 3
	}
	return 1
}

// HazelVersion is the transport version byte following the Hello header.
const HazelVersion byte = 1

// MessageFlag tags root-level messages inside a reliable/unreliable packet.
type MessageFlag byte

const (
	FlagHostGame         MessageFlag = 0
	FlagJoinGame         MessageFlag = 1
	FlagStartGame        MessageFlag = 2
	FlagRemoveGame       MessageFlag = 3
	FlagRemovePlayer     MessageFlag = 4
	FlagGameData         MessageFlag = 5
	FlagGameDataTo       MessageFlag = 6
	FlagJoinedGame       MessageFlag = 7
	FlagEndGame          MessageFlag = 8
	FlagAlterGame        MessageFlag = 10
	FlagKickPlayer       MessageFlag = 11
	FlagWaitForHost      MessageFlag = 12
	FlagRedirect         MessageFlag = 13
	FlagReselectServer   MessageFlag = 14
	FlagGetGameListV2    MessageFlag = 16
	FlagReportPlayer     MessageFlag = 17
	FlagQueryPlatformIDs MessageFlag = 19
	FlagReactor          MessageFlag = 255
)

// GameDataTag tags the inner messages of a GameData/GameDataTo message.
type GameDataTag byte

const (
	GameDataData           GameDataTag = 1
	GameDataRpc            GameDataTag = 2
	GameDataSpawn          GameDataTag = 4
	GameDataDespawn        GameDataTag = 5
	GameDataSceneChange    GameDataTag = 6
	GameDataReady          GameDataTag = 7
	GameDataChangeSettings GameDataTag = 8
)

// DisconnectReason is the coarse machine-readable reason sent with a disconnect.
type DisconnectReason byte

const (
	ReasonExitGame         DisconnectReason = 0
	ReasonGameFull         DisconnectReason = 1
	ReasonGameStarted      DisconnectReason = 2
	ReasonGameNotFound     DisconnectReason = 3
	ReasonIncorrectVersion DisconnectReason = 5
	ReasonBanned           DisconnectReason = 6
	ReasonKicked           DisconnectReason = 7
	ReasonCustom           DisconnectReason = 8
	ReasonInvalidName      DisconnectReason = 9
	ReasonHacking          DisconnectReason = 10
	ReasonNotAuthorized    DisconnectReason = 11
	ReasonDestroy          DisconnectReason = 16
	ReasonError            DisconnectReason = 17
	ReasonIncorrectGame    DisconnectReason = 18
	ReasonServerRequest    DisconnectReason = 19
	ReasonServerFull       DisconnectReason = 20
)

var disconnectReasonStrings = map[DisconnectReason]string{
	ReasonExitGame:         "exit_game",
	ReasonGameFull:         "game_full",
	ReasonGameStarted:      "game_started",
	ReasonGameNotFound:     "game_not_found",
	ReasonIncorrectVersion: "incorrect_version",
	ReasonBanned:           "banned",
	ReasonKicked:           "kicked",
	ReasonCustom:           "custom",
	ReasonInvalidName:      "invalid_name",
	ReasonHacking:          "hacking",
	ReasonNotAuthorized:    "not_authorized",
	ReasonDestroy:          "destroy",
	ReasonError:            "error",
	ReasonIncorrectGame:    "incorrect_game",
	ReasonServerRequest:    "server_request",
	ReasonServerFull:       "server_full",
}

// String returns the lowercase name of the reason.
func (r DisconnectReason) String() string {
	if s, ok := disconnectReasonStrings[r]; ok {
		return s
	}
	return "unknown"
}

// Language is the client UI language sent in the handshake.
type Language uint32

const (
	LanguageEnglish    Language = 0
	LanguageLatam      Language = 1
	LanguageBrazilian  Language = 2
	LanguagePortuguese Language = 3
	LanguageKorean     Language = 4
	LanguageRussian    Language = 5
	LanguageDutch      Language = 6
	LanguageFilipino   Language = 7
	LanguageFrench     Language = 8
	LanguageGerman     Language = 9
	LanguageItalian    Language = 10
	LanguageJapanese   Language = 11
	LanguageSpanish    Language = 12
	LanguageSChinese   Language = 13
	LanguageTChinese   Language = 14
	LanguageIrish      Language = 15
)

// QuickChatMode is the chat restriction the client runs under.
type QuickChatMode byte

const (
	ChatFreeOrQuick QuickChatMode = 1
	ChatQuickOnly   QuickChatMode = 2
)

// Platform identifies the client storefront/console.
type Platform byte

const (
	PlatformUnknown     Platform = 0
	PlatformEpicPC      Platform = 1
	PlatformSteamPC     Platform = 2
	PlatformMac         Platform = 3
	PlatformWin10       Platform = 4
	PlatformItch        Platform = 5
	PlatformIPhone      Platform = 6
	PlatformAndroid     Platform = 7
	PlatformSwitch      Platform = 8
	PlatformXbox        Platform = 9
	PlatformPlaystation Platform = 10
)

var platformStrings = map[Platform]string{
	PlatformUnknown:     "unknown",
	PlatformEpicPC:      "epic",
	PlatformSteamPC:     "steam",
	PlatformMac:         "mac",
	PlatformWin10:       "win10",
	PlatformItch:        "itch",
	PlatformIPhone:      "iphone",
	PlatformAndroid:     "android",
	PlatformSwitch:      "switch",
	PlatformXbox:        "xbox",
	PlatformPlaystation: "playstation",
}

func (p Platform) String() string {
	if s, ok := platformStrings[p]; ok {
		return s
	}
	return fmt.Sprintf("platform(%d)", byte(p))
}

// HasAccountID reports whether the platform descriptor carries an 8-byte account id.
func (p Platform) HasAccountID() bool {
	return p == PlatformXbox || p == PlatformPlaystation
}

// MaxPacketSize bounds a single datagram.
const MaxPacketSize = 65535

// MessageHeaderSize is the length prefix plus the tag byte of a nested message.
const MessageHeaderSize = 3
