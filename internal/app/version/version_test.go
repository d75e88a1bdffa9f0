package version

import "testing"

func TestGetDefaults(t *testing.T) {
	info := Get()
	if info.BuildVersion != "dev" {
		t.Fatalf("BuildVersion = %q, want dev", info.BuildVersion)
	}
	if got := info.String(); got != "dev (built unknown)" {
		t.Fatalf("String() = %q, want %q", got, "dev (built unknown)")
	}
}
