package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	return path
}

func TestApplyFileConfig(t *testing.T) {
	falseVal := false

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		check      func(t *testing.T, c Config)
		wantErr    bool
	}{
		{
			name: "applies all sections",
			fileConfig: FileConfig{
				Addr:        ":9000",
				Device:      "cuda",
				WatchConfig: &falseVal,
				Batch: BatchFileConfig{
					MaxBatchSize:    4,
					MaxWait:         "20ms",
					QueueSize:       32,
					DispatchTimeout: "2s",
				},
				Backend: BackendFileConfig{
					Processor:      "echo",
					URL:            "http://model:8000",
					Timeout:        "5s",
					MaxConcurrency: 2,
				},
				HTTP: HTTPFileConfig{RateLimit: 50, RateBurst: 10},
				NATS: NATSFileConfig{URL: "nats://n:4222", Subject: "ar.tashkil"},
			},
			check: func(t *testing.T, c Config) {
				if c.Addr != ":9000" || c.Device != "cuda" || c.WatchConfig {
					t.Errorf("top level = %q/%q/%v", c.Addr, c.Device, c.WatchConfig)
				}
				if c.BatchSize != 4 || c.BatchWait != 20*time.Millisecond || c.QueueSize != 32 || c.DispatchTimeout != 2*time.Second {
					t.Errorf("batch = %d/%v/%d/%v", c.BatchSize, c.BatchWait, c.QueueSize, c.DispatchTimeout)
				}
				if c.MaxLength != 1024 {
					t.Errorf("MaxLength = %d, want default 1024", c.MaxLength)
				}
				if c.Processor != "echo" || c.BackendURL != "http://model:8000" || c.BackendTimeout != 5*time.Second || c.MaxConcurrency != 2 {
					t.Errorf("backend = %q/%q/%v/%d", c.Processor, c.BackendURL, c.BackendTimeout, c.MaxConcurrency)
				}
				if c.RateLimit != 50 || c.RateBurst != 10 {
					t.Errorf("http = %v/%d", c.RateLimit, c.RateBurst)
				}
				if c.NATSURL != "nats://n:4222" || c.NATSSubject != "ar.tashkil" || c.NATSQueue != "tashkil" {
					t.Errorf("nats = %q/%q/%q", c.NATSURL, c.NATSSubject, c.NATSQueue)
				}
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				Device: "cuda",
				Batch:  BatchFileConfig{MaxBatchSize: 64},
			},
			changed: map[string]bool{"batch-size": true},
			check: func(t *testing.T, c Config) {
				if c.BatchSize != 8 {
					t.Errorf("BatchSize = %d, want flag value 8", c.BatchSize)
				}
				if c.Device != "cuda" {
					t.Errorf("Device = %q, want cuda", c.Device)
				}
			},
		},
		{
			name:       "zero wait string is applied",
			fileConfig: FileConfig{Batch: BatchFileConfig{MaxWait: "0s"}},
			check: func(t *testing.T, c Config) {
				if c.BatchWait != 0 {
					t.Errorf("BatchWait = %v, want 0", c.BatchWait)
				}
			},
		},
		{
			name:       "invalid batch wait",
			fileConfig: FileConfig{Batch: BatchFileConfig{MaxWait: "eventually"}},
			wantErr:    true,
		},
		{
			name:       "negative dispatch timeout",
			fileConfig: FileConfig{Batch: BatchFileConfig{DispatchTimeout: "-1s"}},
			wantErr:    true,
		},
		{
			name:       "invalid shutdown timeout",
			fileConfig: FileConfig{ShutdownTimeout: "never"},
			wantErr:    true,
		},
		{
			name:       "invalid backend timeout",
			fileConfig: FileConfig{Backend: BackendFileConfig{Timeout: "5 seconds"}},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := tt.changed
			if changed == nil {
				changed = map[string]bool{}
			}
			cfg := DefaultConfig()
			err := ApplyFileConfig(&cfg, tt.fileConfig, changed)
			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	path := writeFile(t, `
addr = ":9000"
log_format = "json"

[batch]
max_batch_size = 16
max_wait = "12ms"

[backend]
url = "http://gpu-box:8000"
auth_key = "k"

[nats]
url = "nats://localhost:4222"
`)

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.Addr != ":9000" {
		t.Errorf("Addr = %v, want :9000", fc.Addr)
	}
	if fc.LogFormat != "json" {
		t.Errorf("LogFormat = %v, want json", fc.LogFormat)
	}
	if fc.Batch.MaxBatchSize != 16 {
		t.Errorf("Batch.MaxBatchSize = %v, want 16", fc.Batch.MaxBatchSize)
	}
	if fc.Batch.MaxWait != "12ms" {
		t.Errorf("Batch.MaxWait = %v, want 12ms", fc.Batch.MaxWait)
	}
	if fc.Backend.URL != "http://gpu-box:8000" || fc.Backend.AuthKey != "k" {
		t.Errorf("Backend = %+v", fc.Backend)
	}
	if fc.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS.URL = %v", fc.NATS.URL)
	}
	if fc.WatchConfig != nil {
		t.Errorf("WatchConfig = %v, want nil when absent", *fc.WatchConfig)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	path := writeFile(t, `
addr = ":9000"
this is not valid toml
`)

	_, err := LoadFileConfig(path)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".tashkil") {
		t.Errorf("DefaultConfigPath() = %v, should contain .tashkil", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}

func TestLoader_Precedence(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
device = "file-device"

[batch]
max_batch_size = 16
max_wait = "30ms"
max_item_length = 300
`)
	t.Setenv("TASHKIL_BATCH_WAIT", "40ms")
	t.Setenv("MAX_LENGTH", "400")

	base := DefaultConfig()
	base.MaxLength = 500
	loader := Loader{
		Path:    path,
		Base:    base,
		Changed: map[string]bool{"max-length": true},
	}

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device != "file-device" {
		t.Errorf("Device = %q, want file value", cfg.Device)
	}
	if cfg.BatchSize != 16 {
		t.Errorf("BatchSize = %d, want file value 16", cfg.BatchSize)
	}
	if cfg.BatchWait != 40*time.Millisecond {
		t.Errorf("BatchWait = %v, want env value 40ms", cfg.BatchWait)
	}
	if cfg.MaxLength != 500 {
		t.Errorf("MaxLength = %d, want flag value 500", cfg.MaxLength)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	loader := Loader{Path: filepath.Join(t.TempDir(), "absent.toml"), Base: DefaultConfig()}

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BatchSize != 8 {
		t.Errorf("BatchSize = %d, want 8", cfg.BatchSize)
	}
}

func TestLoader_InvalidResult(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
[backend]
processor = "carrier-pigeon"
`)
	loader := Loader{Path: path, Base: DefaultConfig()}

	if _, err := loader.Load(); err == nil {
		t.Error("Load() expected validation error")
	}
}

func TestLoader_ReloadSeesFileChanges(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "[batch]\nmax_batch_size = 4\n")
	loader := Loader{Path: path, Base: DefaultConfig()}

	first, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("[batch]\nmax_batch_size = 12\n"), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}

	if first.BatchSize != 4 || second.BatchSize != 12 {
		t.Errorf("BatchSize first=%d second=%d, want 4 then 12", first.BatchSize, second.BatchSize)
	}
}
