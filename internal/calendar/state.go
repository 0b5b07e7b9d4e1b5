package calendar

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// authState is the payload carried in the OAuth state parameter.
//
// It is encoded, not signed: anyone can mint a state for any tenant and it
// has no enforced expiry. The timestamp is informational. Hardening (HMAC or
// a server-side nonce) is a known open item.
type authState struct {
	TenantID  string `json:"tenantId"`
	Timestamp int64  `json:"ts"`
}

// EncodeState returns an opaque URL-safe token for tenantID.
func EncodeState(tenantID string, at time.Time) string {
	b, _ := json.Marshal(authState{TenantID: tenantID, Timestamp: at.UnixMilli()})
	return base64.RawURLEncoding.EncodeToString(b)
}

// ParseAuthorizationState decodes a state produced by EncodeState. It reports
// false for any malformed, undecodable or incomplete input and never panics.
func ParseAuthorizationState(state string) (string, bool) {
	state = strings.TrimSpace(state)
	if state == "" {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(state, "="))
	if err != nil {
		return "", false
	}
	var s authState
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if strings.TrimSpace(s.TenantID) == "" || s.Timestamp <= 0 {
		return "", false
	}
	return s.TenantID, true
}
