package app

import (
	"testing"
	"time"
)

func TestEnvStringTrimsAndDefaults(t *testing.T) {
	t.Setenv("WARDEN_TEST_STR", "  value  ")
	if got := EnvString("WARDEN_TEST_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q want %q", got, "value")
	}
	if got := EnvString("WARDEN_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString missing=%q want default", got)
	}
}

func TestEnvBool(t *testing.T) {
	cases := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"0", true, false},
		{"", true, true},
		{"not-a-bool", false, false},
		{"not-a-bool", true, true},
	}
	for _, tc := range cases {
		t.Setenv("WARDEN_TEST_BOOL", tc.raw)
		if got := EnvBool("WARDEN_TEST_BOOL", tc.def); got != tc.want {
			t.Fatalf("EnvBool(%q, def=%v)=%v want %v", tc.raw, tc.def, got, tc.want)
		}
	}
}

func TestEnvIntRejectsNonPositive(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"8", 8},
		{"", 42},
		{"0", 42},
		{"-3", 42},
		{"abc", 42},
	}
	for _, tc := range cases {
		t.Setenv("WARDEN_TEST_INT", tc.raw)
		if got := EnvInt("WARDEN_TEST_INT", 42); got != tc.want {
			t.Fatalf("EnvInt(%q)=%d want %d", tc.raw, got, tc.want)
		}
	}
}

func TestEnvInt32AllowsZero(t *testing.T) {
	t.Setenv("WARDEN_TEST_INT32", "0")
	if got := EnvInt32("WARDEN_TEST_INT32", 7); got != 0 {
		t.Fatalf("zero: EnvInt32=%d want 0", got)
	}
	t.Setenv("WARDEN_TEST_INT32", "-1")
	if got := EnvInt32("WARDEN_TEST_INT32", 7); got != 7 {
		t.Fatalf("negative: EnvInt32=%d want default", got)
	}
}

func TestEnvDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"90s", 90 * time.Second},
		{"2h", 2 * time.Hour},
		{"", time.Minute},
		{"-5s", time.Minute},
		{"nope", time.Minute},
	}
	for _, tc := range cases {
		t.Setenv("WARDEN_TEST_DUR", tc.raw)
		if got := EnvDuration("WARDEN_TEST_DUR", time.Minute); got != tc.want {
			t.Fatalf("EnvDuration(%q)=%v want %v", tc.raw, got, tc.want)
		}
	}
}

func TestEnvStringSliceDropsBlanks(t *testing.T) {
	t.Setenv("WARDEN_TEST_SLICE", " a, ,b,, c ")
	got := EnvStringSlice("WARDEN_TEST_SLICE")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("EnvStringSlice=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("EnvStringSlice[%d]=%q want %q", i, got[i], want[i])
		}
	}
	if EnvStringSlice("WARDEN_TEST_SLICE_MISSING") != nil {
		t.Fatal("missing var must yield nil")
	}
}
