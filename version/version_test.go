package version

import (
	"strings"
	"testing"
	"time"
)

func stamp(t *testing.T, version, commit, branch, built string) {
	t.Helper()
	prev := [4]string{Version, GitCommit, GitBranch, BuildTime}
	Version, GitCommit, GitBranch, BuildTime = version, commit, branch, built
	t.Cleanup(func() { Version, GitCommit, GitBranch, BuildTime = prev[0], prev[1], prev[2], prev[3] })
}

func TestGet(t *testing.T) {
	stamp(t, "1.0.0", "abc1234", "main", "2024-01-15T10:30:00Z")
	info := Get()
	if info.Version != "1.0.0" || info.GitCommit != "abc1234" || info.GoVersion == "" {
		t.Fatalf("info = %+v", info)
	}
	if !info.BuildTime.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("build time = %v", info.BuildTime)
	}
}

func TestRelease(t *testing.T) {
	tests := []struct {
		info Info
		want bool
	}{
		{Info{Version: "dev"}, false},
		{Info{Version: "1.0.0"}, true},
		{Info{Version: "1.0.0-dirty"}, false},
		{Info{Version: "1.0.0", Dirty: true}, false},
	}
	for _, tt := range tests {
		if got := tt.info.Release(); got != tt.want {
			t.Errorf("%+v.Release() = %v", tt.info, got)
		}
	}
}

func TestShortAndString(t *testing.T) {
	built := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		info  Info
		short string
		full  string
	}{
		{Info{Version: "dev"}, "dev", "dev"},
		{Info{Version: "1.0.0", GitCommit: "abc1234", GitBranch: "main", BuildTime: built}, "1.0.0-abc1234", "1.0.0-abc1234 (built 2024-01-15T10:30:00Z)"},
		{Info{Version: "1.0.0", GitCommit: "abc1234", GitBranch: "feature/skew", Dirty: true}, "1.0.0-abc1234-dirty", "1.0.0-abc1234-dirty-feature/skew"},
	}
	for _, tt := range tests {
		if got := tt.info.Short(); got != tt.short {
			t.Errorf("Short() = %q, want %q", got, tt.short)
		}
		if got := tt.info.String(); got != tt.full {
			t.Errorf("String() = %q, want %q", got, tt.full)
		}
	}
}

func TestBuilder(t *testing.T) {
	stamp(t, "1.2.0", "abc1234", "", "")
	if got := Builder(); !strings.HasPrefix(got, "batchpredict/1.2.0-abc1234") {
		t.Errorf("Builder() = %q", got)
	}
}
