//go:build darwin

package welcome

import (
	"os/exec"
	"strings"
)

const welcomeTitle = "TagBridge Agent"
const welcomeMessage = `TagBridge Agent is now running!

The app runs quietly in your menu bar and provides an API that allows the OpenSpool backend and other applications to communicate with your filament-tag reader.

You can check the reader connection at:
http://127.0.0.1:32145/v1/bridge/status

Click the menu bar icon anytime to check status or quit.`

const aboutMessage = `TagBridge Agent

A lightweight background service that enables web applications like the OpenSpool backend to communicate with the filament-tag reader connected to your computer.

Features:
- Automatic reader detection
- Secure local API (127.0.0.1 only)
- Cross-platform support

Bridge status: http://127.0.0.1:32145/v1/bridge/status

© OpenSpool`

// ShowWelcome displays a native welcome dialog on macOS
func ShowWelcome() {
	script := `display dialog "` + escapeAppleScript(welcomeMessage) + `" with title "` + welcomeTitle + `" buttons {"Got it!"} default button 1 with icon note`
	exec.Command("osascript", "-e", script).Run()
}

// ShowAbout displays a native about dialog on macOS
func ShowAbout(version string) {
	msg := aboutMessage + "\nVersion: " + version
	script := `display dialog "` + escapeAppleScript(msg) + `" with title "About TagBridge Agent" buttons {"OK"} default button 1 with icon note`
	exec.Command("osascript", "-e", script).Run()
}

func escapeAppleScript(s string) string {
	result := ""
	for _, c := range s {
		if c == '"' {
			result += `\"`
		} else if c == '\\' {
			result += `\\`
		} else {
			result += string(c)
		}
	}
	return result
}

const autostartPromptMessage = `Would you like TagBridge Agent to start automatically when you log in?

This ensures the agent is always available for the OpenSpool backend and other applications.

You can change this later with the tagbridge-agent install / uninstall commands.`

// PromptAutostart shows a dialog asking if the user wants to enable auto-start.
// Returns true if the user clicked "Yes".
func PromptAutostart() bool {
	script := `display dialog "` + escapeAppleScript(autostartPromptMessage) + `" with title "TagBridge Agent" buttons {"No", "Yes"} default button 2 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Yes")
}

const crashReportingPromptMessage = `Help improve TagBridge Agent by sending anonymous crash reports?

If the app crashes, diagnostic information will be sent to help us fix bugs faster. No personal data is collected.

You can change this later in the agent's settings.json file.`

// PromptCrashReporting shows a dialog asking if the user wants to enable crash reporting.
// Returns true if the user clicked "Yes".
func PromptCrashReporting() bool {
	script := `display dialog "` + escapeAppleScript(crashReportingPromptMessage) + `" with title "TagBridge Agent" buttons {"No", "Yes"} default button 2 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Yes")
}
