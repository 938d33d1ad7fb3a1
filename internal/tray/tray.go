//go:build !linux

package tray

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/openspool/tagbridge-agent/internal/api"
	"github.com/openspool/tagbridge-agent/internal/bridge"
	"github.com/openspool/tagbridge-agent/internal/welcome"
	"github.com/getlantern/systray"
)

// TrayApp manages the system tray icon and menu
type TrayApp struct {
	serverAddr string
	onQuit     func()
	session    *bridge.Session
	mu         sync.Mutex

	// Menu items for updating
	mStatus *systray.MenuItem
	mReader *systray.MenuItem
}

// New creates a new TrayApp instance. session may be nil (status will read
// as disconnected) for callers that only want the tray chrome.
func New(serverAddr string, session *bridge.Session, onQuit func()) *TrayApp {
	return &TrayApp{
		serverAddr: serverAddr,
		session:    session,
		onQuit:     onQuit,
	}
}

// Run starts the system tray. This function blocks until the tray is closed.
func (t *TrayApp) Run() {
	systray.Run(t.onReady, t.onExit)
}

// RunWithServer runs the tray on the main thread and starts the server in a goroutine.
// This function BLOCKS - it must be called from the main goroutine on macOS.
func (t *TrayApp) RunWithServer(serverStart func()) {
	systray.Run(func() {
		t.onReady()
		if serverStart != nil {
			go serverStart()
		}
	}, t.onExit)
}

func (t *TrayApp) onReady() {
	// Set icon
	systray.SetIcon(iconData)
	systray.SetTitle("") // Empty title for cleaner menu bar (macOS)
	systray.SetTooltip("TagBridge Agent")

	// Version header (disabled, just for display)
	// Only add "v" prefix for proper version numbers (e.g., "1.2.3"), not for dev builds
	versionStr := api.Version
	if len(versionStr) > 0 && versionStr[0] >= '0' && versionStr[0] <= '9' {
		versionStr = "v" + versionStr
	}
	mVersion := systray.AddMenuItem(fmt.Sprintf("TagBridge Agent %s", versionStr), "")
	mVersion.Disable()

	systray.AddSeparator()

	// Status indicator
	t.mStatus = systray.AddMenuItem("Status: Starting...", "Server status")
	t.mStatus.Disable()

	// Bridge reader connection state
	t.mReader = systray.AddMenuItem("Reader: Checking...", "Attached reader connection state")
	t.mReader.Disable()

	systray.AddSeparator()

	// Open bridge status endpoint
	mOpenUI := systray.AddMenuItem("Open Bridge Status", "Open the bridge status endpoint in browser")

	// About
	mAbout := systray.AddMenuItem("About", "About TagBridge Agent")

	systray.AddSeparator()

	// Quit
	mQuit := systray.AddMenuItem("Quit", "Exit TagBridge Agent")

	// Poll the bridge session periodically; it has no change notification.
	go t.pollStatus()

	// Handle menu clicks
	go func() {
		for {
			select {
			case <-mOpenUI.ClickedCh:
				t.openBrowser(fmt.Sprintf("http://%s/v1/bridge/status", t.serverAddr))
			case <-mAbout.ClickedCh:
				go welcome.ShowAbout(api.Version)
			case <-mQuit.ClickedCh:
				systray.Quit()
			}
		}
	}()
}

func (t *TrayApp) onExit() {
	if t.onQuit != nil {
		t.onQuit()
	}
}

// pollStatus refreshes the status display in the tray menu from the bridge
// session's current connection state every few seconds; the session has no
// push notification for this, so polling is the simplest fit (the teacher's
// own updateStatus was a one-shot call, not a loop, since PC/SC readers were
// enumerated synchronously on demand).
func (t *TrayApp) pollStatus() {
	t.refresh()
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		t.refresh()
	}
}

func (t *TrayApp) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mStatus != nil {
		t.mStatus.SetTitle("Status: Running")
	}
	if t.mReader == nil {
		return
	}

	if t.session == nil || !t.session.IsConnected() {
		t.mReader.SetTitle("Reader: Not connected")
		return
	}
	if device := t.session.DeviceName(); device != "" {
		t.mReader.SetTitle(fmt.Sprintf("Reader: %s connected", device))
	} else {
		t.mReader.SetTitle("Reader: Connected")
	}
}

func (t *TrayApp) openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	cmd.Start()
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return true
}
