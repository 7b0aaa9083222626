package utils

import (
	"testing"
)

func TestIntFromEnv(t *testing.T) {
	t.Setenv("TEST_INT_ENV", "25")
	if got := IntFromEnv("TEST_INT_ENV", 10); got != 25 {
		t.Fatalf("got %d, want 25", got)
	}
	if got := IntFromEnv("TEST_INT_ENV_MISSING", 10); got != 10 {
		t.Fatalf("missing key should default, got %d", got)
	}
	t.Setenv("TEST_INT_ENV_BAD", "abc")
	if got := IntFromEnv("TEST_INT_ENV_BAD", 10); got != 10 {
		t.Fatalf("bad value should default, got %d", got)
	}
}

func TestNilIfEmpty(t *testing.T) {
	if NilIfEmpty("") != nil {
		t.Fatalf("empty string should give nil")
	}
	if v := NilIfEmpty("x"); v == nil || *v != "x" {
		t.Fatalf("non-empty should round-trip")
	}
}

func TestDereferencePtr(t *testing.T) {
	n := 7
	if DereferencePtr(&n) != 7 {
		t.Fatalf("should dereference pointer")
	}
	if DereferencePtr[int](nil, 3) != 3 {
		t.Fatalf("nil pointer should use default")
	}
	if DereferencePtr[int](nil) != 0 {
		t.Fatalf("nil pointer without default should zero")
	}
}
