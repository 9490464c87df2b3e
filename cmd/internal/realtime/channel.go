package realtime

import "relay/cmd/internal/chat"

// Channel name prefixes. Every channel kind has its own prefix so a user id can
// never collide with a conversation channel.
const (
	personalChannelPrefix = "user:"
	directChannelPrefix   = "direct:"
	groupChannelPrefix    = "group:"
)

// PersonalChannel is the channel every connection joins on connect.
func PersonalChannel(userID string) string { return personalChannelPrefix + userID }

// ChannelFor derives the fan-out channel of a conversation.
// It is a pure function of (kind, conversation id).
func ChannelFor(kind chat.Kind, conversationID string) string {
	if kind == chat.KindGroup {
		return groupChannelPrefix + conversationID
	}
	return directChannelPrefix + conversationID
}
