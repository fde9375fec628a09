package version

import (
	"runtime/debug"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	t.Parallel()

	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	var info Info
	fillFromBuildInfo(&info, bi)
	if info.Version != "v0.3.1" || info.BuildTime != "2026-01-02T03:04:05Z" || !info.Modified {
		t.Fatalf("unexpected info %+v", info)
	}
	if got, want := info.String(), "v0.3.1 (0123456789ab-dirty)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestLdflagsWin(t *testing.T) {
	t.Parallel()

	info := Info{Version: "v1.0.0", Commit: "abc"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "def"}},
	})
	if info.Version != "v1.0.0" || info.Commit != "abc" {
		t.Fatalf("ldflags values were overwritten: %+v", info)
	}
	if got := info.String(); got != "v1.0.0 (abc)" {
		t.Fatalf("String() = %q", got)
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	t.Parallel()

	if Resolve().Version == "" {
		t.Fatal("Resolve returned an empty version")
	}
}
