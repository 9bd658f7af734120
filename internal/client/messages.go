package client

import (
	"fmt"

	"github.com/airlock-project/airlock/internal/protocol"
)

// MessageKey names a player-facing disconnect text.
type MessageKey int

const (
	MsgError MessageKey = iota
	MsgClientOutdated
	MsgClientTooNew
	MsgDestroyed
	MsgUsernameLength
	MsgUsernameIllegalCharacters
	MsgVersionClientTooOld
	MsgVersionServerTooOld
	MsgVersionUnsupported
	MsgAmongUsMenu
	MsgCheating
	MsgBanned
	MsgServerFull
)

// Texts take fmt verbs. Version texts receive (client label, server range);
// lobby texts receive (host label, client label).
var english = map[MessageKey]string{
	MsgError: "There was an internal server error. " +
		"Check the server console for more information. " +
		"Please report the issue to the server owner if it keeps happening.",
	MsgClientOutdated: "Please update your game to play in this lobby. \nHost:%s Client:%s",
	MsgClientTooNew: "Your game version is too new for this lobby. \nHost:%s Client:%s " +
		"If you want to join this lobby you need to downgrade your client.",
	MsgDestroyed:                 "The game you tried to join is being destroyed. Please create a new game.",
	MsgUsernameLength:            "Your username is too long, please make it shorter.",
	MsgUsernameIllegalCharacters: "Your username contains illegal characters, please remove them.",
	MsgVersionClientTooOld:       "Please update your game to play on this server. \nClient:%s  Server:%s",
	MsgVersionServerTooOld:       "Your client is too new, please update your server to play. \nClient:%s  Server:%s",
	MsgVersionUnsupported:        "Your client version is unsupported, please update your Game and/or server. \nClient:%s  Server:%s",
	MsgAmongUsMenu:               "Suspected use of AmongUsMenu",
	MsgCheating:                  "You were removed for sending invalid game data.",
	MsgBanned:                    "You are banned from this server.",
	MsgServerFull:                "The server is full, please try again later.",
}

var simplifiedChinese = map[MessageKey]string{
	MsgClientOutdated:            "请更新你的客户端版本\n房主:%s 客户端:%s",
	MsgClientTooNew:              "请降低您的客户端版本\n房主:%s 客户端:%s",
	MsgDestroyed:                 "您要加入的房间已销毁, 请创建新房间",
	MsgUsernameLength:            "您的用户名称过长",
	MsgUsernameIllegalCharacters: "您的用户名不合规",
	MsgVersionClientTooOld:       "请更新您的客户端版本\n客户端版本:%s  服务器支持版本%s",
	MsgVersionServerTooOld:       "服务器版本过低, 请更新您的服务器版本\n客户端版本:%s  服务器支持版本%s",
	MsgVersionUnsupported:        "服务器不支持该版本,请联系腐竹\n客户端版本:%s  服务器支持版本%s",
	MsgAmongUsMenu:               "疑似使用AUM",
}

// Message renders key for the client's language. Simplified Chinese clients
// get the Chinese text where one exists, everyone else English.
func Message(lang protocol.Language, key MessageKey, args ...any) string {
	text, ok := "", false
	if lang == protocol.LanguageSChinese {
		text, ok = simplifiedChinese[key]
	}
	if !ok {
		text, ok = english[key]
	}
	if !ok {
		text = english[MsgError]
	}
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

// AmongUsMenuNotice is the host chat line announcing a suspected menu user.
func AmongUsMenuNotice(name string) string {
	return name + " 疑似使用AUM"
}
