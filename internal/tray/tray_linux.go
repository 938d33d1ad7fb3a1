//go:build linux

package tray

import "github.com/openspool/tagbridge-agent/internal/bridge"

// TrayApp is a no-op stand-in on Linux, where systray's cgo/libayatana
// dependency isn't assumed to be present; IsSupported reports false so
// cmd/tagbridge-agent/main.go always takes the headless path here.
type TrayApp struct{}

// New constructs a no-op TrayApp.
func New(serverAddr string, session *bridge.Session, onQuit func()) *TrayApp {
	return &TrayApp{}
}

// Run is unused on Linux; IsSupported keeps callers from reaching it.
func (t *TrayApp) Run() {}

// RunWithServer runs serverStart directly, with no tray chrome.
func (t *TrayApp) RunWithServer(serverStart func()) {
	if serverStart != nil {
		serverStart()
	}
}

// IsSupported reports false: no system tray integration on Linux builds.
func IsSupported() bool {
	return false
}
