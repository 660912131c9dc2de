package agent

import "strings"

// Broadcast is the wildcard destination that reaches every live channel.
const Broadcast = "*"

// SplitAddress splits an address of the form "<channel-id>.<sub-scope>".
// The split happens on the first dot only; the sub-scope is informational.
func SplitAddress(addr string) (channelID, subScope string) {
	channelID, subScope, _ = strings.Cut(addr, ".")
	return channelID, subScope
}

// IsBroadcast reports whether to addresses every live channel.
func IsBroadcast(to string) bool {
	return to == "" || to == Broadcast
}

// MatchAddress reports whether the destination to selects the channel id.
//
//	"*" or ""      every channel
//	"Host.local"   exactly "Host.local"
//	"Host"         "Host" and every "Host.<sub-scope>"
func MatchAddress(to, id string) bool {
	if IsBroadcast(to) || to == id {
		return true
	}
	if strings.Contains(to, ".") {
		return false
	}
	scope, _ := SplitAddress(id)
	return scope == to
}

// IsScope reports whether to may match more than one channel.
func IsScope(to string) bool {
	return IsBroadcast(to) || !strings.Contains(to, ".")
}
