package environment_test

import (
	"testing"
	"time"

	"github.com/parleybot/parley/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("PARLEY_TEST_STR", "value")
	if got := environment.StringOr("PARLEY_TEST_STR", "fallback"); got != "value" {
		t.Errorf("got %q, want value", got)
	}
	if got := environment.StringOr("PARLEY_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("PARLEY_TEST_REQ", "present")
	v, err := environment.RequiredString("PARLEY_TEST_REQ")
	if err != nil || v != "present" {
		t.Errorf("got %q, %v", v, err)
	}
	if _, err := environment.RequiredString("PARLEY_TEST_REQ_UNSET"); err == nil {
		t.Error("expected error for unset variable")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("PARLEY_TEST_INT", "42")
	if got := environment.IntOr("PARLEY_TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv("PARLEY_TEST_INT_BAD", "not a number")
	if got := environment.IntOr("PARLEY_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("got %d, want fallback 7", got)
	}
}

func TestFloatOr(t *testing.T) {
	t.Setenv("PARLEY_TEST_FLOAT", "0.25")
	if got := environment.FloatOr("PARLEY_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("got %v, want 0.25", got)
	}
	if got := environment.FloatOr("PARLEY_TEST_FLOAT_UNSET", 1); got != 1 {
		t.Errorf("got %v, want fallback 1", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("PARLEY_TEST_DUR", "90s")
	if got := environment.DurationOr("PARLEY_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}
	t.Setenv("PARLEY_TEST_DUR_BAD", "ninety")
	if got := environment.DurationOr("PARLEY_TEST_DUR_BAD", time.Second); got != time.Second {
		t.Errorf("got %v, want fallback 1s", got)
	}
}
