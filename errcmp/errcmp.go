// Package errcmp compares errors against expected messages in tests.
package errcmp

import (
	"strings"
	"testing"
)

// Match reports whether err matches want. An empty want matches only a nil error, otherwise
// err must be non nil and its message must contain want.
func Match(err error, want string) bool {
	if want == "" {
		return err == nil
	}
	return err != nil && strings.Contains(err.Error(), want)
}

// MustMatch fails the test when err does not Match want.
func MustMatch(t testing.TB, err error, want string) {
	t.Helper()
	if Match(err, want) {
		return
	}
	switch {
	case want == "":
		t.Fatalf("unexpected error: %v", err)
	case err == nil:
		t.Fatalf("expected error containing %q, got nil", want)
	default:
		t.Fatalf("expected error containing %q, got %q", want, err.Error())
	}
}
