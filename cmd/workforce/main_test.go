package main

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:18790", true},
		{"localhost:1", true},
		{"[::1]:1", true},
		{"127.0.0.2:1", true},
		{"0.0.0.0:18790", false},
		{"10.0.0.5:80", false},
		{"not-an-addr", false},
	}
	for _, tt := range tests {
		if got := isLoopback(tt.addr); got != tt.want {
			t.Errorf("isLoopback(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestReasonCode(t *testing.T) {
	err := failed("E_JOURNAL_OPEN", errors.New("disk full"))
	if got := reasonCode(err, "E_DEFAULT"); got != "E_JOURNAL_OPEN" {
		t.Fatalf("reasonCode = %q", got)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Error() = %q", err.Error())
	}
	if got := reasonCode(errors.New("plain"), "E_DEFAULT"); got != "E_DEFAULT" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestIsAddrInUse(t *testing.T) {
	if !isAddrInUse(errors.New("listen tcp :80: bind: address already in use")) {
		t.Fatal("expected text match")
	}
	if isAddrInUse(errors.New("permission denied")) {
		t.Fatal("unexpected match")
	}
}

func TestPortOccupantHint(t *testing.T) {
	orig := execCommandFunc
	t.Cleanup(func() { execCommandFunc = orig })

	execCommandFunc = func(name string, args ...string) *exec.Cmd {
		return exec.Command("echo", "4242")
	}
	if got := portOccupantHint("127.0.0.1:18790"); !strings.Contains(got, "PID 4242") {
		t.Fatalf("hint = %q", got)
	}

	execCommandFunc = func(name string, args ...string) *exec.Cmd {
		return exec.Command("false")
	}
	if got := portOccupantHint("127.0.0.1:18790"); !strings.Contains(got, "Port 18790 is already in use") {
		t.Fatalf("hint = %q", got)
	}
	if got := portOccupantHint("bogus"); !strings.Contains(got, "bogus") {
		t.Fatalf("hint = %q", got)
	}
}
