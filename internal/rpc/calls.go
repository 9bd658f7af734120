// Package rpc gates remote procedure calls before they are applied or
// relayed. Every call id is known up front, so authorization is a switch over
// a closed enumeration rather than a lookup.
package rpc

import "fmt"

// Call is a remote procedure id.
type Call byte

const (
	PlayAnimation    Call = 0
	CompleteTask     Call = 1
	SyncSettings     Call = 2
	SetInfected      Call = 3
	Exiled           Call = 4
	CheckName        Call = 5
	SetName          Call = 6
	CheckColor       Call = 7
	SetColor         Call = 8
	SetHat           Call = 9
	SetSkin          Call = 10
	ReportDeadBody   Call = 11
	MurderPlayer     Call = 12
	SendChat         Call = 13
	StartMeeting     Call = 14
	SetScanner       Call = 15
	SendChatNote     Call = 16
	SetPet           Call = 17
	SetStartCounter  Call = 18
	EnterVent        Call = 19
	ExitVent         Call = 20
	SnapTo           Call = 21
	CloseMeeting     Call = 22
	VotingComplete   Call = 23
	CastVote         Call = 24
	ClearVote        Call = 25
	AddVote          Call = 26
	CloseDoorsOfType Call = 27
	RepairSystem     Call = 28
	SetTasks         Call = 29
	ClimbLadder      Call = 31
	UsePlatform      Call = 32
	SendQuickChat    Call = 33
	BootFromVent     Call = 34
	UpdateSystem     Call = 35
	SetVisor         Call = 36
	SetNamePlate     Call = 37
	SetLevel         Call = 38
	SetHatStr        Call = 39
	SetSkinStr       Call = 40
	SetPetStr        Call = 41
	SetVisorStr      Call = 42
	SetNamePlateStr  Call = 43
	SetRole          Call = 44
	ProtectPlayer    Call = 45
	Shapeshift       Call = 46
	CheckMurder      Call = 47
	CheckProtect     Call = 48
	Pet              Call = 49
	CancelPet        Call = 50
	CheckZipline     Call = 51
	UseZipline       Call = 52
	TriggerSpores    Call = 53
	CheckSpore       Call = 54
	CheckShapeshift  Call = 55
	RejectShapeshift Call = 56
	CheckVanish      Call = 62
	StartVanish      Call = 63
	CheckAppear      Call = 64
	StartAppear      Call = 65

	// AmongUsMenu is sent only by the AmongUsMenu cheat client.
	AmongUsMenu Call = 101
)

var callNames = map[Call]string{
	PlayAnimation:    "PlayAnimation",
	CompleteTask:     "CompleteTask",
	SyncSettings:     "SyncSettings",
	SetInfected:      "SetInfected",
	Exiled:           "Exiled",
	CheckName:        "CheckName",
	SetName:          "SetName",
	CheckColor:       "CheckColor",
	SetColor:         "SetColor",
	SetHat:           "SetHat",
	SetSkin:          "SetSkin",
	ReportDeadBody:   "ReportDeadBody",
	MurderPlayer:     "MurderPlayer",
	SendChat:         "SendChat",
	StartMeeting:     "StartMeeting",
	SetScanner:       "SetScanner",
	SendChatNote:     "SendChatNote",
	SetPet:           "SetPet",
	SetStartCounter:  "SetStartCounter",
	EnterVent:        "EnterVent",
	ExitVent:         "ExitVent",
	SnapTo:           "SnapTo",
	CloseMeeting:     "CloseMeeting",
	VotingComplete:   "VotingComplete",
	CastVote:         "CastVote",
	ClearVote:        "ClearVote",
	AddVote:          "AddVote",
	CloseDoorsOfType: "CloseDoorsOfType",
	RepairSystem:     "RepairSystem",
	SetTasks:         "SetTasks",
	ClimbLadder:      "ClimbLadder",
	UsePlatform:      "UsePlatform",
	SendQuickChat:    "SendQuickChat",
	BootFromVent:     "BootFromVent",
	UpdateSystem:     "UpdateSystem",
	SetVisor:         "SetVisor",
	SetNamePlate:     "SetNamePlate",
	SetLevel:         "SetLevel",
	SetHatStr:        "SetHatStr",
	SetSkinStr:       "SetSkinStr",
	SetPetStr:        "SetPetStr",
	SetVisorStr:      "SetVisorStr",
	SetNamePlateStr:  "SetNamePlateStr",
	SetRole:          "SetRole",
	ProtectPlayer:    "ProtectPlayer",
	Shapeshift:       "Shapeshift",
	CheckMurder:      "CheckMurder",
	CheckProtect:     "CheckProtect",
	Pet:              "Pet",
	CancelPet:        "CancelPet",
	CheckZipline:     "CheckZipline",
	UseZipline:       "UseZipline",
	TriggerSpores:    "TriggerSpores",
	CheckSpore:       "CheckSpore",
	CheckShapeshift:  "CheckShapeshift",
	RejectShapeshift: "RejectShapeshift",
	CheckVanish:      "CheckVanish",
	StartVanish:      "StartVanish",
	CheckAppear:      "CheckAppear",
	StartAppear:      "StartAppear",
	AmongUsMenu:      "AmongUsMenu",
}

// Valid reports whether c is a known call id.
func (c Call) Valid() bool {
	_, ok := callNames[c]
	return ok
}

func (c Call) String() string {
	if name, ok := callNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Call(%d)", byte(c))
}

// Authority is who may send a call.
type Authority int

const (
	// Unknown calls are never authorized.
	AuthorityNone Authority = iota
	// OwnerOnly calls act on an object the sender owns.
	OwnerOnly
	// HostOnly calls carry decisions only the game host makes.
	HostOnly
	// Anyone may send the call, for example to a host-owned system.
	Anyone
)

func (a Authority) String() string {
	switch a {
	case OwnerOnly:
		return "owner"
	case HostOnly:
		return "host"
	case Anyone:
		return "anyone"
	default:
		return "none"
	}
}

// AuthorityOf returns who may send c.
func AuthorityOf(c Call) Authority {
	switch c {
	case SyncSettings, SetInfected, Exiled, SetName, SetColor, MurderPlayer,
		StartMeeting, CloseMeeting, VotingComplete, ClearVote, AddVote,
		SetTasks, BootFromVent, SetRole, ProtectPlayer, Shapeshift,
		RejectShapeshift, StartVanish, StartAppear, UseZipline, SendChatNote:
		return HostOnly

	case PlayAnimation, CompleteTask, CheckName, CheckColor, SetHat, SetSkin,
		ReportDeadBody, SendChat, SetScanner, SetPet, SetStartCounter,
		EnterVent, ExitVent, SnapTo, ClimbLadder, UsePlatform, SendQuickChat,
		SetVisor, SetNamePlate, SetLevel, SetHatStr, SetSkinStr, SetPetStr,
		SetVisorStr, SetNamePlateStr, CheckMurder, CheckProtect, Pet,
		CancelPet, CheckZipline, TriggerSpores, CheckSpore, CheckShapeshift,
		CheckVanish, CheckAppear:
		return OwnerOnly

	case CastVote, CloseDoorsOfType, RepairSystem, UpdateSystem, AmongUsMenu:
		return Anyone

	default:
		return AuthorityNone
	}
}
