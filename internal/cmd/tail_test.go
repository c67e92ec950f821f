package cmd

import (
	"os"
	"testing"
	"time"

	"github.com/wethinkt/go-proctail/internal/config"
)

func TestResolveCollectorURL(t *testing.T) {
	t.Setenv("PROCTAIL_HOME", t.TempDir())

	t.Run("flag takes precedence", func(t *testing.T) {
		t.Setenv(envCollectorURL, "http://env.example")
		got := resolveCollectorURL("http://flag.example", config.StreamConfig{CollectorURL: "http://config.example"})
		if got != "http://flag.example" {
			t.Fatalf("resolveCollectorURL() = %q, want flag", got)
		}
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv(envCollectorURL, "http://env.example")
		got := resolveCollectorURL("", config.StreamConfig{CollectorURL: "http://config.example"})
		if got != "http://env.example" {
			t.Fatalf("resolveCollectorURL() = %q, want env", got)
		}
	})

	t.Run("config fallback", func(t *testing.T) {
		t.Setenv(envCollectorURL, "")
		got := resolveCollectorURL("", config.StreamConfig{CollectorURL: "http://config.example"})
		if got != "http://config.example" {
			t.Fatalf("resolveCollectorURL() = %q, want config", got)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Setenv(envCollectorURL, "")
		if got := resolveCollectorURL("", config.StreamConfig{}); got != "" {
			t.Fatalf("resolveCollectorURL() = %q, want empty string", got)
		}
	})

	t.Run("running collector", func(t *testing.T) {
		t.Setenv(envCollectorURL, "")
		inst := config.Instance{
			Type:      config.InstanceCollector,
			PID:       os.Getpid(),
			Host:      "0.0.0.0",
			Port:      9911,
			StartedAt: time.Now(),
		}
		if err := config.RegisterInstance(inst); err != nil {
			t.Fatal(err)
		}
		defer config.UnregisterInstance(inst.PID)

		if got := resolveCollectorURL("", config.StreamConfig{}); got != "http://localhost:9911" {
			t.Fatalf("resolveCollectorURL() = %q, want the running collector", got)
		}
	})
}

func TestResolveToken(t *testing.T) {
	tests := []struct {
		name       string
		flag       string
		env        string
		configured string
		want       string
	}{
		{"flag", "f", "e", "c", "f"},
		{"env", "", "e", "c", "e"},
		{"config", "", "", "c", "c"},
		{"none", "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envToken, tt.env)
			if got := resolveToken(tt.flag, tt.configured); got != tt.want {
				t.Errorf("resolveToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
