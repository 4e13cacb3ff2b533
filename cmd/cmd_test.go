package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bnema/hwcplane/internal/config"
)

const testConfig = `[hardware]
generation = "anniedale"
panel = "command"
`

const testScenario = `name = "boot"

[[cycles]]
repeat = 2

[[cycles.displays]]
pipe = 0
geometry_changed = true

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 1
frame = [0, 0, 1920, 1200]

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 2
frame = [0, 0, 1920, 80]

[[cycles]]

[[cycles.hotplug]]
pipe = 1
connected = true

[[cycles.displays]]
pipe = 0

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 1
frame = [0, 0, 1920, 1200]

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 2
frame = [0, 0, 1920, 80]

[[cycles.displays]]
pipe = 1
geometry_changed = true

[[cycles.displays.layers]]
format = "RGBA8888"
handle = 3
frame = [0, 0, 1920, 1080]
`

// Helper function to execute cobra commands in tests
func executeCommand(root *cobra.Command, args ...string) error {
	root.SetArgs(args)
	return root.Execute()
}

// run executes the root command with a fresh viper state and default flag
// values, returning what the command printed
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	config.Set(nil)
	config.SetConfigPath("")
	configPath = ""
	logLevel = ""
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		viper.Reset()
		config.Set(nil)
	})

	err := executeCommand(rootCmd, args...)
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hwcplane.toml")
	if err := os.WriteFile(path, []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func TestVersion(t *testing.T) {
	if _, err := run(t, "version"); err != nil {
		t.Errorf("version failed: %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("config init writes to /etc/hwcplane when run as root")
	}

	tmpDir := t.TempDir()
	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", originalHome)

	configFile := filepath.Join(tmpDir, ".config", "hwcplane", "hwcplane.toml")

	t.Run("creates config file when it doesn't exist", func(t *testing.T) {
		if _, err := run(t, "config", "init"); err != nil {
			t.Fatalf("config init failed: %v", err)
		}
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			t.Fatal("Config file was not created")
		}
	})

	t.Run("written file loads back", func(t *testing.T) {
		if _, err := run(t, "--config", configFile, "config", "validate"); err != nil {
			t.Fatalf("config validate failed: %v", err)
		}
		if n := len(config.Get().Display.Connectors); n != 2 {
			t.Errorf("Expected 2 connectors after reload, got %d", n)
		}
	})

	t.Run("overwrites with force flag", func(t *testing.T) {
		os.WriteFile(configFile, []byte("test = true"), 0644)
		if _, err := run(t, "config", "init", "--force"); err != nil {
			t.Fatalf("config init --force failed: %v", err)
		}
		content, _ := os.ReadFile(configFile)
		if string(content) == "test = true" {
			t.Error("Config file was not overwritten")
		}
	})
}

func TestConfigValidateRejectsBadPanel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwcplane.toml")
	if err := os.WriteFile(path, []byte("[hardware]\npanel = \"burst\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "--config", path, "config", "validate")
	if err == nil || !contains(err.Error(), "hardware.panel") {
		t.Errorf("Expected panel error, got %v", err)
	}
}

func TestTables(t *testing.T) {
	cfgPath := writeConfig(t)

	t.Run("show renders the built-in generation", func(t *testing.T) {
		out, err := run(t, "--config", cfgPath, "tables", "show")
		if err != nil {
			t.Fatalf("tables show failed: %v", err)
		}
		for _, want := range []string{"ANNIEDALE", "Pipe 0", "Pipe 1"} {
			if !contains(out, want) {
				t.Errorf("tables show output missing %q", want)
			}
		}
	})

	t.Run("check accepts the built-in tables", func(t *testing.T) {
		if _, err := run(t, "--config", cfgPath, "tables", "check", "--panel", "video"); err != nil {
			t.Errorf("tables check failed: %v", err)
		}
	})

	t.Run("check reports a broken file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.toml")
		broken := `
name = "broken"
sprite_planes = 1
primary_planes = 1
max_layers = 2

[[pipes]]
primary = "primary/0"
sprites = [0]
max_sprites = 2
zorder = [ { overlays = 1, planes = ["primary/0", "sprite/0"] } ]
`
		if err := os.WriteFile(path, []byte(broken), 0644); err != nil {
			t.Fatal(err)
		}
		out, err := run(t, "--config", cfgPath, "tables", "check", path)
		if err == nil || !contains(err.Error(), "has errors") {
			t.Errorf("Expected validation failure, got %v", err)
		}
		if !contains(out, "overlay bitmask") {
			t.Errorf("Expected the finding in the output, got:\n%s", out)
		}
	})

	t.Run("unknown panel flag", func(t *testing.T) {
		_, err := run(t, "--config", cfgPath, "tables", "show", "--panel", "burst")
		if err == nil || !contains(err.Error(), "invalid panel") {
			t.Errorf("Expected panel error, got %v", err)
		}
	})
}

func TestAssign(t *testing.T) {
	cfgPath := writeConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantOut string
		wantErr string
	}{
		{
			name:    "primary with sprites",
			args:    []string{"assign", "primary", "sprite", "sprite"},
			wantOut: "assigned",
		},
		{
			name:    "overlay on the external pipe",
			args:    []string{"assign", "--pipe", "1", "primary", "overlay"},
			wantOut: "assigned",
		},
		{
			name:    "too many layers",
			args:    []string{"assign", "sprite", "sprite", "sprite", "sprite", "sprite", "sprite"},
			wantOut: "no legal assignment",
			wantErr: "no legal plane assignment",
		},
		{
			name:    "unknown plane type",
			args:    []string{"assign", "video"},
			wantErr: "entry 0",
		},
		{
			name:    "unknown transform",
			args:    []string{"assign", "overlay:rot45"},
			wantErr: "entry 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"--config", cfgPath}, tt.args...)...)
			if tt.wantErr == "" && err != nil {
				t.Fatalf("assign failed: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !contains(err.Error(), tt.wantErr)) {
				t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
			}
			if tt.wantOut != "" && !contains(out, tt.wantOut) {
				t.Errorf("Expected output containing %q, got:\n%s", tt.wantOut, out)
			}
		})
	}
}

func TestSimulateAndRecords(t *testing.T) {
	cfgPath := writeConfig(t)
	dir := t.TempDir()
	scenario := filepath.Join(dir, "boot.toml")
	if err := os.WriteFile(scenario, []byte(testScenario), 0644); err != nil {
		t.Fatal(err)
	}
	recording := filepath.Join(dir, "boot.rec")

	out, err := run(t, "--config", cfgPath, "simulate", "--record", recording, scenario)
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}
	if !contains(out, "SIMULATE") || !contains(out, "card0-HDMI-A-1") {
		t.Errorf("unexpected simulate output:\n%s", out)
	}

	info, err := os.Stat(recording)
	if err != nil {
		t.Fatalf("recording missing: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("recording is empty")
	}

	out, err = run(t, "records", recording)
	if err != nil {
		t.Fatalf("records failed: %v", err)
	}
	if !contains(out, "3 cycle(s)") {
		t.Errorf("Expected three recorded cycles, got:\n%s", out)
	}
	if !contains(out, "sprite/") {
		t.Errorf("Expected a sprite plane in the recording, got:\n%s", out)
	}
}

func TestSimulateMissingScenario(t *testing.T) {
	cfgPath := writeConfig(t)
	if _, err := run(t, "--config", cfgPath, "simulate", filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Expected an error for a missing scenario")
	}
}
