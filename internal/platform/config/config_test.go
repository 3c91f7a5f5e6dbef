package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PL_INT", "42")
	t.Setenv("PL_BAD_INT", "forty")
	t.Setenv("PL_FLOAT", "0.75")
	t.Setenv("PL_BOOL", "true")
	t.Setenv("PL_MS", "250")
	t.Setenv("PL_DUR", "1.5s")

	if got := GetEnvInt("PL_INT", 1); got != 42 {
		t.Errorf("GetEnvInt: got %d", got)
	}
	if got := GetEnvInt("PL_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt fallback: got %d", got)
	}
	if got := GetEnvFloat("PL_FLOAT", 0); got != 0.75 {
		t.Errorf("GetEnvFloat: got %v", got)
	}
	if got := GetEnvBool("PL_BOOL", false); !got {
		t.Errorf("GetEnvBool: got %v", got)
	}
	if got := GetEnvDuration("PL_MS", 0); got != 250*time.Millisecond {
		t.Errorf("GetEnvDuration ms: got %s", got)
	}
	if got := GetEnvDuration("PL_DUR", 0); got != 1500*time.Millisecond {
		t.Errorf("GetEnvDuration string: got %s", got)
	}
	if got := GetEnv("PL_UNSET", "x"); got != "x" {
		t.Errorf("GetEnv fallback: got %s", got)
	}
}

func TestLoad_DefaultsAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("SPOTIFY_CLIENT_ID=from-file\nBAR_CONFIDENCE=0.8\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	t.Setenv("BAR_CONFIDENCE", "")
	t.Setenv("TICK_INTERVAL_MS", "")
	os.Unsetenv("SPOTIFY_CLIENT_ID")
	os.Unsetenv("BAR_CONFIDENCE")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SpotifyClientID != "from-file" {
		t.Errorf("client id: got %q", cfg.SpotifyClientID)
	}
	if cfg.BarConfidence != 0.8 {
		t.Errorf("bar confidence: got %v", cfg.BarConfidence)
	}
	if cfg.TickInterval != 20*time.Millisecond {
		t.Errorf("tick default: got %s", cfg.TickInterval)
	}
	if cfg.BrightnessMax != 50 || cfg.MergeMinDuration != 200*time.Millisecond {
		t.Errorf("defaults: got %+v", cfg)
	}
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestRequireSpotify(t *testing.T) {
	cfg := &Config{SpotifyClientID: "id"}
	err := cfg.RequireSpotify()
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("got %v, want ErrMissingCredentials", err)
	}
	cfg.SpotifyClientSecret, cfg.SpotifyRefreshToken = "s", "r"
	if err := cfg.RequireSpotify(); err != nil {
		t.Fatalf("complete credentials: %v", err)
	}
}

func TestParseDevices(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		wantIDs []string
	}{
		{
			name: "valid inventory",
			yaml: `
devices:
  - id: desk
    kind: yeelight
    address: 192.168.1.20
    music: true
  - kind: ledstrip
    address: 192.168.1.30
    pixels: 60
`,
			wantIDs: []string{"desk", "ledstrip-192.168.1.30"},
		},
		{
			name:    "kind defaults to yeelight",
			yaml:    "devices:\n  - address: 10.0.0.2\n",
			wantIDs: []string{"yeelight-10.0.0.2"},
		},
		{
			name:    "missing address",
			yaml:    "devices:\n  - id: x\n",
			wantErr: true,
		},
		{
			name:    "unknown kind",
			yaml:    "devices:\n  - kind: hue\n    address: 1.2.3.4\n",
			wantErr: true,
		},
		{
			name:    "duplicate id",
			yaml:    "devices:\n  - {id: a, address: 1.1.1.1}\n  - {id: a, address: 1.1.1.2}\n",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			inv, err := ParseDevices([]byte(tc.yaml))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if len(inv.Devices) != len(tc.wantIDs) {
				t.Fatalf("devices: got %d, want %d", len(inv.Devices), len(tc.wantIDs))
			}
			for i, id := range tc.wantIDs {
				if inv.Devices[i].ID != id {
					t.Errorf("device %d id: got %q, want %q", i, inv.Devices[i].ID, id)
				}
			}
		})
	}
}

func TestLoadDevices_RoundTripAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if _, err := LoadDevices(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing file: got %v, want fs.ErrNotExist", err)
	}

	inv := &Inventory{Devices: []DeviceSpec{{ID: "bulb", Kind: KindYeelight, Address: "10.0.0.5", Port: 55443}}}
	if err := WriteDevices(path, inv); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadDevices(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Devices) != 1 || got.Devices[0] != inv.Devices[0] {
		t.Fatalf("round trip: got %+v", got.Devices)
	}
}
