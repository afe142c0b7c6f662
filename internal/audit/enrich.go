package audit

import (
	"net"
	"strings"
)

// ClassifyLocation maps an IP to a coarse origin. Loopback, private and
// link-local addresses are local; anything else that parses is external.
func ClassifyLocation(ip string) Location {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return LocationUnknown
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	parsed := net.ParseIP(strings.Trim(ip, "[]"))
	if parsed == nil {
		return LocationUnknown
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() {
		return LocationLocal
	}
	return LocationExternal
}

// actionDetails adds the fields a reader of a given action always wants,
// without overwriting anything the caller set.
func actionDetails(e *Event) {
	if e.Details == nil {
		e.Details = make(map[string]string, 2)
	}
	setDefault := func(k, v string) {
		if v == "" {
			return
		}
		if _, ok := e.Details[k]; !ok {
			e.Details[k] = v
		}
	}

	switch e.Action {
	case ActionLogin, ActionFailedLogin:
		if IsBotUserAgent(e.UserAgent) {
			setDefault("bot_user_agent", "true")
		}
	case ActionEmergencyAccess, ActionEmergencyAccessRevoked:
		setDefault("patient_id", e.ResourceID)
	}
	if e.Referrer != "" {
		setDefault("referrer", e.Referrer)
	}
	if len(e.Details) == 0 {
		e.Details = nil
	}
}
