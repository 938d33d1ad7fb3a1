package welcome

import (
	"os"
	"path/filepath"
)

// markerName is the sentinel file whose presence means the welcome flow
// (welcome popup, autostart prompt, crash-reporting prompt) already ran
// once for this user.
const markerName = ".welcome-shown"

func markerPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "tagbridge-agent", markerName), nil
}

// IsFirstRun reports whether the welcome flow has not yet run on this
// machine. Errors resolving the config directory are treated as "not first
// run" so a broken environment doesn't repeatedly pop dialogs.
func IsFirstRun() bool {
	path, err := markerPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return os.IsNotExist(err)
}

// MarkAsShown records that the welcome flow has run, so it won't show again.
func MarkAsShown() error {
	path, err := markerPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte{}, 0644)
}
