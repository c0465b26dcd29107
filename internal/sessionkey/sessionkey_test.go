package sessionkey

import (
	"errors"
	"strings"
	"testing"
)

type staticRoster map[string]bool

func (r staticRoster) Has(id string) bool { return r[id] }

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, id := range []string{"e1", "designer", "emp-42"} {
		key := Encode(id)
		if !strings.HasPrefix(key, "agent:"+id+":workforce-") {
			t.Fatalf("Encode(%q) = %q, unexpected shape", id, key)
		}
		got, err := Decode(key)
		if err != nil {
			t.Fatalf("Decode(%q): %v", key, err)
		}
		if got.AgentID != id {
			t.Fatalf("AgentID = %q, want %q", got.AgentID, id)
		}
		if got.String() != key {
			t.Fatalf("String() = %q, want %q", got.String(), key)
		}
	}
}

func TestEncode_Unique(t *testing.T) {
	a, b := Encode("e1"), Encode("e1")
	if a == b {
		t.Fatalf("expected distinct keys, got %q twice", a)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"empty", "", ErrNotWorkforceKey},
		{"legacy single segment", "workforce-abc", ErrLegacyKey},
		{"plain word", "main", ErrNotWorkforceKey},
		{"wrong prefix", "user:e1:workforce-abc", ErrNotWorkforceKey},
		{"missing tag prefix", "agent:e1:chat-abc", ErrNotWorkforceKey},
		{"empty tag", "agent:e1:workforce-", ErrNotWorkforceKey},
		{"empty agent", "agent::workforce-abc", ErrNotWorkforceKey},
		{"two segments", "agent:workforce-abc", ErrNotWorkforceKey},
		{"four segments", "agent:e1:x:workforce-abc", ErrNotWorkforceKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.key)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode(%q) err = %v, want %v", tt.key, err, tt.want)
			}
		})
	}
}

func TestIsWellFormed_LooserThanDecode(t *testing.T) {
	if !IsWellFormed("agent:e1:workforce-abc") {
		t.Fatal("expected well-formed key to pass")
	}
	// Passes the fast filter even though Decode rejects it.
	loose := "agent:e1:extra:workforce-abc"
	if !IsWellFormed(loose) {
		t.Fatal("expected fast filter to admit extra-segment key")
	}
	if _, err := Decode(loose); err == nil {
		t.Fatal("expected Decode to reject extra-segment key")
	}
	for _, k := range []string{"", "workforce-abc", "agent:e1:chat"} {
		if IsWellFormed(k) {
			t.Fatalf("IsWellFormed(%q) = true, want false", k)
		}
	}
}

func TestIsMember(t *testing.T) {
	roster := staticRoster{"e1": true}
	if !IsMember(Encode("e1"), roster) {
		t.Fatal("expected roster member to match")
	}
	if IsMember(Encode("e2"), roster) {
		t.Fatal("expected unknown employee to be rejected")
	}
	if IsMember("workforce-legacy", roster) {
		t.Fatal("expected legacy key to be rejected")
	}
	if IsMember(Encode("e1"), nil) {
		t.Fatal("expected nil roster to reject")
	}
}
