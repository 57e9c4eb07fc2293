package service

import "strings"

// PairSeparator joins the two identities of a conversation key. Nicknames
// containing it are rejected at the boundary, so the key is unambiguous.
const PairSeparator = "|"

const maxNicknameLen = 50

// PairKey derives the canonical conversation identifier for two
// identities: both sorted lexicographically and joined with the
// separator. Symmetric: PairKey(a, b) == PairKey(b, a), so two sessions
// opening a conversation with each other converge on the same channel
// regardless of call order. PairKey(a, a) is valid and names the
// degenerate self-conversation.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + PairSeparator + b
}

// SpaceChannel names the broadcast channel of a space.
func SpaceChannel(space string) string {
	return "space:" + space
}

// ConversationChannel names the broadcast channel of a conversation.
func ConversationChannel(pairKey string) string {
	return "dm:" + pairKey
}

// ValidIdentity reports whether a nickname may participate in routing:
// non-empty, at most 50 runes, and free of the pair separator.
func ValidIdentity(nickname string) bool {
	if nickname == "" || len([]rune(nickname)) > maxNicknameLen {
		return false
	}
	return !strings.Contains(nickname, PairSeparator)
}
