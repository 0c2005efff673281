package middleware

import (
	"crypto/subtle"
	"strings"
)

// Role is the access level attached to an API key.
type Role string

const (
	// RoleReadonly may call any read-only control-plane endpoint.
	RoleReadonly Role = "readonly"
	// RoleAdmin may additionally call retry, cancel, delete, and cron
	// validation.
	RoleAdmin Role = "admin"
)

// KeyStore parses the comma-separated API_KEYS configuration value into a
// key -> role lookup. Each entry is either a bare key (defaulting to
// RoleReadonly) or "role:key" ("admin:xyz", "readonly:abc").
type KeyStore struct {
	roles map[string]Role
}

// NewKeyStore parses raw (AuthConfig.APIKeys) into a KeyStore.
func NewKeyStore(raw string) *KeyStore {
	ks := &KeyStore{roles: make(map[string]Role)}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		role := RoleReadonly
		key := entry
		if idx := strings.IndexByte(entry, ':'); idx >= 0 {
			switch entry[:idx] {
			case "admin":
				role = RoleAdmin
				key = entry[idx+1:]
			case "readonly":
				role = RoleReadonly
				key = entry[idx+1:]
			}
		}
		if key != "" {
			ks.roles[key] = role
		}
	}
	return ks
}

// Empty reports whether no keys were configured.
func (ks *KeyStore) Empty() bool {
	return len(ks.roles) == 0
}

// Authorize checks presented against the configured keys and returns the
// matched role. When required is false the check is bypassed entirely
// (REQUIRE_API_AUTH=false), returning RoleAdmin so every operation is
// reachable.
func (ks *KeyStore) Authorize(presented string, required bool) (Role, bool) {
	if !required {
		return RoleAdmin, true
	}
	if presented == "" {
		return "", false
	}
	// Constant-time compare against every configured key so response
	// timing does not leak which prefix of a candidate key matched.
	for key, role := range ks.roles {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			return role, true
		}
	}
	return "", false
}

// CheckWebhookSecret compares presented against secret using a
// constant-time comparison. An empty configured secret disables the check,
// matching SPEC_FULL.md's "enforced when configured" rule.
func CheckWebhookSecret(secret, presented string) bool {
	if secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}
