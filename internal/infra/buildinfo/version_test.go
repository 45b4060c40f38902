package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.Commit == "" {
		t.Error("Commit should not be empty")
	}
	if info.BuildTime == "" {
		t.Error("BuildTime should not be empty")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}

func TestString(t *testing.T) {
	s := String()

	want := Version + " (" + Commit + ") built at " + BuildTime
	if s != want {
		t.Errorf("String() = %q, want %q", s, want)
	}
	if !strings.Contains(s, Version) {
		t.Errorf("String() %q does not contain the version", s)
	}
}
