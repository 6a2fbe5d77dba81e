package version

import "testing"

func TestString(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = origVersion, origCommit })

	tests := []struct {
		version, commit, want string
	}{
		{"dev", "unknown", "dev"},
		{"v1.2.0", "", "v1.2.0"},
		{"v1.2.0", "abc1234def", "v1.2.0 (abc1234)"},
		{"v1.2.0", "abc", "v1.2.0 (abc)"},
	}
	for _, tt := range tests {
		Version, GitCommit = tt.version, tt.commit
		if got := String(); got != tt.want {
			t.Errorf("String() with %q/%q = %q, want %q", tt.version, tt.commit, got, tt.want)
		}
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.GoVersion == "" || info.Platform == "" {
		t.Errorf("runtime fields missing: %+v", info)
	}
}
