// Package sessions owns session identity and admission: the canonical
// session ID, the pairing handshake, the allowlist, and timed lifecycle.
//
// Session IDs follow the canonical format
//
//	{channelType}:{channelId}:{chatId}
//
// Examples:
//
//	telegram:bot-1:chat-123
//	discord:guild-9:555
//	cli:local:default
//
// The ID is a pure function of the triple; two channel events with the same
// triple always resolve to the same session. Colons are the separator and
// are forbidden inside components.
package sessions

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
)

// BuildSessionID builds the canonical session ID for a channel conversation.
// Returns GW-SESS-003 if any component is empty or contains a colon.
func BuildSessionID(channelType, channelID, chatID string) (string, error) {
	for _, part := range []string{channelType, channelID, chatID} {
		if part == "" || strings.ContainsRune(part, ':') {
			return "", errdefs.New(errdefs.CodeSessionBadID,
				fmt.Sprintf("component %q is empty or contains ':'", part))
		}
	}
	return channelType + ":" + channelID + ":" + chatID, nil
}

// ParseSessionID splits a canonical session ID back into its triple.
// Returns GW-SESS-003 if the ID does not have exactly three components.
func ParseSessionID(id string) (channelType, channelID, chatID string, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", errdefs.New(errdefs.CodeSessionBadID, id)
	}
	return parts[0], parts[1], parts[2], nil
}
