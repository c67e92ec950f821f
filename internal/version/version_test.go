package version

import (
	"strings"
	"testing"
)

func TestGetUsesLdflagsVersion(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	if got := Get(); got != "v1.2.3" {
		t.Errorf("Get() = %q, want v1.2.3", got)
	}
	if got := String("proctail"); got != "proctail version v1.2.3" {
		t.Errorf("String() = %q", got)
	}
	info := GetInfo("proctail")
	if info.Name != "proctail" || info.Version != "v1.2.3" {
		t.Errorf("GetInfo() = %+v", info)
	}
	if !strings.Contains(info.Platform, "/") || info.GoVersion == "" {
		t.Errorf("GetInfo() missing runtime fields: %+v", info)
	}
}

func TestGetFallback(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = ""
	if got := Get(); got == "" {
		t.Error("Get() returned empty version")
	}
}
