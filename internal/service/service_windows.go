//go:build windows

package service

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const taskName = "TagBridgeAgent"

type windowsService struct{}

// New creates a new platform-specific service manager
func New() Service {
	return &windowsService{}
}

func (s *windowsService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command("schtasks", "/Create", "/TN", taskName, "/TR",
		fmt.Sprintf(`"%s" --no-tray`, execPath), "/SC", "ONLOGON", "/RL", "LIMITED", "/F")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create scheduled task: %s: %w", string(output), err)
	}

	return nil
}

func (s *windowsService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	cmd := exec.Command("schtasks", "/Delete", "/TN", taskName, "/F")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to delete scheduled task: %s: %w", string(output), err)
	}

	return nil
}

func (s *windowsService) IsInstalled() bool {
	cmd := exec.Command("schtasks", "/Query", "/TN", taskName)
	return cmd.Run() == nil
}

func (s *windowsService) Status() (string, error) {
	cmd := exec.Command("schtasks", "/Query", "/TN", taskName, "/FO", "LIST")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "not installed", nil
	}

	if strings.Contains(string(output), "Ready") || strings.Contains(string(output), "Running") {
		return "installed", nil
	}

	return "installed", nil
}
