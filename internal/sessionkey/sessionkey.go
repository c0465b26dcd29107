// Package sessionkey encodes and decodes the composite key that routes an
// agent run to an employee workspace. Keys have the shape
//
//	agent:{agentId}:workforce-{tag}
//
// where agentId is the employee id and tag is unique per conversational run.
package sessionkey

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	agentPrefix = "agent"
	tagPrefix   = "workforce-"
	separator   = ":"
)

var (
	// ErrNotWorkforceKey is returned for keys that do not have the
	// agent:{id}:workforce-{tag} shape.
	ErrNotWorkforceKey = errors.New("sessionkey: not a workforce key")

	// ErrLegacyKey is returned for the retired single-segment
	// "workforce-{tag}" format.
	ErrLegacyKey = errors.New("sessionkey: legacy single-segment key")
)

// Key is a decoded session key.
type Key struct {
	AgentID string
	Tag     string
}

// String re-encodes the key.
func (k Key) String() string {
	return agentPrefix + separator + k.AgentID + separator + tagPrefix + k.Tag
}

// Roster reports whether an agent id belongs to the current employee roster.
type Roster interface {
	Has(agentID string) bool
}

// Encode returns a fresh key scoped to employeeID. The caller keeps the key
// on the task and reuses it verbatim for follow-up turns.
func Encode(employeeID string) string {
	return Key{AgentID: employeeID, Tag: uuid.NewString()}.String()
}

// Decode parses a workforce session key.
func Decode(sessionKey string) (Key, error) {
	if !strings.Contains(sessionKey, separator) {
		if strings.HasPrefix(sessionKey, tagPrefix) {
			return Key{}, ErrLegacyKey
		}
		return Key{}, ErrNotWorkforceKey
	}
	parts := strings.Split(sessionKey, separator)
	if len(parts) != 3 || parts[0] != agentPrefix || parts[1] == "" {
		return Key{}, ErrNotWorkforceKey
	}
	tag, ok := strings.CutPrefix(parts[2], tagPrefix)
	if !ok || tag == "" {
		return Key{}, ErrNotWorkforceKey
	}
	return Key{AgentID: parts[1], Tag: tag}, nil
}

// IsWellFormed is a format-only check used before the task lookup. It can
// admit keys that Decode rejects (extra segments, for example); the lookup
// that follows filters those out.
func IsWellFormed(sessionKey string) bool {
	return strings.HasPrefix(sessionKey, agentPrefix+separator) &&
		strings.Contains(sessionKey, separator+tagPrefix)
}

// IsMember reports whether sessionKey decodes and names an employee present
// in roster. Lifecycle hooks are gated on this.
func IsMember(sessionKey string, roster Roster) bool {
	if roster == nil {
		return false
	}
	key, err := Decode(sessionKey)
	if err != nil {
		return false
	}
	return roster.Has(key.AgentID)
}
