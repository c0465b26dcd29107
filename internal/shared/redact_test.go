package shared

import (
	"strings"
	"testing"
)

func TestRedact_BearerToken(t *testing.T) {
	input := "Bearer abc123def456ghi789jkl0"
	result := Redact(input)
	if result != "Bearer [REDACTED]" {
		t.Fatalf("expected 'Bearer [REDACTED]', got %q", result)
	}
}

func TestRedact_AuthToken(t *testing.T) {
	input := `auth_token=abcdef1234567890abcdef`
	if result := Redact(input); result == input {
		t.Fatalf("expected redaction, got %q", result)
	}
}

func TestRedact_NoSecret(t *testing.T) {
	input := "task 3f2a moved to review"
	if result := Redact(input); result != input {
		t.Fatalf("expected no redaction, got %q", result)
	}
	if Redact("") != "" {
		t.Fatal("expected empty")
	}
}

func TestRedactEnvValue(t *testing.T) {
	cases := []struct {
		key, value string
		expect     string
	}{
		{"WORKFORCE_AUTH_TOKEN", "abc123", "[REDACTED]"},
		{"password", "s3cret", "[REDACTED]"},
		{"WORKFORCE_BIND_ADDR", "127.0.0.1:8080", "127.0.0.1:8080"},
		{"WORKFORCE_LOG_LEVEL", "info", "info"},
	}
	for _, tc := range cases {
		if got := RedactEnvValue(tc.key, tc.value); got != tc.expect {
			t.Errorf("RedactEnvValue(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.expect)
		}
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("/ws?token=hunter2&client=desk")
	if strings.Contains(got, "hunter2") || !strings.Contains(got, "client=desk") {
		t.Fatalf("RedactURL = %q", got)
	}
	if got := RedactURL("/api/tasks?status=running"); got != "/api/tasks?status=running" {
		t.Fatalf("untouched url rewritten: %q", got)
	}
	if got := RedactURL("/healthz"); got != "/healthz" {
		t.Fatalf("RedactURL = %q", got)
	}
}
