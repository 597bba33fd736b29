package gate

import "github.com/nextlevelbuilder/clawgate/internal/bus"

// ResolveFunc derives the conversation key for a message. An empty result
// means no key could be derived and coordination is skipped for that
// message — both gates become no-ops.
type ResolveFunc func(msg bus.InboundMessage) string

// ChainResolver builds the conversation key resolver: custom function
// (when supplied) → session key → chat ID → user ID from metadata → user
// ID field. First non-empty result wins, so a custom resolver that
// returns "" for a message falls through to the built-in chain.
func ChainResolver(custom ResolveFunc) ResolveFunc {
	return func(msg bus.InboundMessage) string {
		if custom != nil {
			if key := custom(msg); key != "" {
				return key
			}
		}
		if msg.SessionKey != "" {
			return msg.SessionKey
		}
		if msg.ChatID != "" {
			return msg.ChatID
		}
		if id := msg.Metadata["user_id"]; id != "" {
			return id
		}
		return msg.UserID
	}
}
