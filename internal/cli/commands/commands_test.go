package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFollowCommand(t *testing.T) {
	cmd := NewFollowCommand()

	if cmd.Use != "follow [config-file]" {
		t.Errorf("Unexpected Use: %s", cmd.Use)
	}

	// Check flags exist
	flags := []string{"from-start", "verbose"}
	for _, flag := range flags {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("Missing flag: %s", flag)
		}
	}
}

func TestNewValidateCommand(t *testing.T) {
	cmd := NewValidateCommand()

	if cmd.Use != "validate <config-file>" {
		t.Errorf("Unexpected Use: %s", cmd.Use)
	}

	if !strings.Contains(cmd.Long, "Validate") {
		t.Error("Missing description in Long")
	}
}

func TestNewVersionCommand(t *testing.T) {
	cmd := NewVersionCommand()

	if cmd.Use != "version" {
		t.Errorf("Unexpected Use: %s", cmd.Use)
	}
}

func TestRunValidate_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	logPath := filepath.Join(tmpDir, "Player.log")

	if err := os.WriteFile(logPath, []byte("test log"), 0o644); err != nil {
		t.Fatalf("Failed to create log file: %v", err)
	}

	configContent := `log_file: ` + logPath + `
endpoint:
  url: https://collector.example.com/events
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	cmd := NewValidateCommand()
	cmd.SetArgs([]string{configPath})

	if err := cmd.Execute(); err != nil {
		t.Errorf("Expected validation to succeed, got: %v", err)
	}
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Missing the required endpoint URL
	configContent := `log_file: /var/log/Player.log
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	cmd := NewValidateCommand()
	cmd.SetArgs([]string{configPath})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("Expected validation to fail")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	cmd := NewValidateCommand()
	cmd.SetArgs([]string{"/nonexistent/config.yaml"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("Expected validation of a missing file to fail")
	}
}

func TestRunFollow_MissingConfig(t *testing.T) {
	// No config file and no environment: follow must refuse to start.
	t.Setenv("UPLOG_LOG_FILE", "")
	t.Setenv("UPLOG_ENDPOINT_URL", "")

	cmd := NewFollowCommand()
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("Expected follow without configuration to fail")
	}
}
