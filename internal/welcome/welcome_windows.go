//go:build windows

package welcome

import (
	"syscall"
	"unsafe"
)

var (
	user32           = syscall.NewLazyDLL("user32.dll")
	procMessageBoxW  = user32.NewProc("MessageBoxW")
)

const (
	MB_OK          = 0x00000000
	MB_YESNO       = 0x00000004
	MB_ICONINFO    = 0x00000040
	MB_ICONQUESTION = 0x00000020
	IDYES          = 6
)

const welcomeTitle = "TagBridge Agent"
const welcomeMessage = `TagBridge Agent is now running!

The app runs quietly in your system tray and provides an API that allows the OpenSpool backend and other applications to communicate with your filament-tag reader.

You can check the reader connection at:
http://127.0.0.1:32145/v1/bridge/status

Click the tray icon anytime to check status or quit.`

const aboutMessage = `TagBridge Agent

A lightweight background service that enables web applications like the OpenSpool backend to communicate with the filament-tag reader connected to your computer.

Features:
• Automatic reader detection
• Secure local API (127.0.0.1 only)
• Cross-platform support

Bridge status: http://127.0.0.1:32145/v1/bridge/status

© OpenSpool`

// ShowWelcome displays a native welcome dialog on Windows
func ShowWelcome() {
	messageBox(welcomeTitle, welcomeMessage)
}

// ShowAbout displays a native about dialog on Windows
func ShowAbout(version string) {
	msg := aboutMessage + "\nVersion: " + version
	messageBox("About TagBridge Agent", msg)
}

func messageBox(title, message string) {
	titlePtr, _ := syscall.UTF16PtrFromString(title)
	messagePtr, _ := syscall.UTF16PtrFromString(message)
	procMessageBoxW.Call(
		0,
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		uintptr(MB_OK|MB_ICONINFO),
	)
}

const autostartPromptMessage = `Would you like TagBridge Agent to start automatically when you log in?

This ensures the agent is always available for the OpenSpool backend and other applications.

You can change this later with the tagbridge-agent install / uninstall commands.`

// PromptAutostart shows a dialog asking if the user wants to enable auto-start.
// Returns true if the user clicked "Yes".
func PromptAutostart() bool {
	titlePtr, _ := syscall.UTF16PtrFromString("TagBridge Agent")
	messagePtr, _ := syscall.UTF16PtrFromString(autostartPromptMessage)
	ret, _, _ := procMessageBoxW.Call(
		0,
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		uintptr(MB_YESNO|MB_ICONQUESTION),
	)
	return ret == IDYES
}

const crashReportingPromptMessage = `Help improve TagBridge Agent by sending anonymous crash reports?

If the app crashes, diagnostic information will be sent to help us fix bugs faster. No personal data is collected.

You can change this later in the agent's settings.json file.`

// PromptCrashReporting shows a dialog asking if the user wants to enable crash reporting.
// Returns true if the user clicked "Yes".
func PromptCrashReporting() bool {
	titlePtr, _ := syscall.UTF16PtrFromString("TagBridge Agent")
	messagePtr, _ := syscall.UTF16PtrFromString(crashReportingPromptMessage)
	ret, _, _ := procMessageBoxW.Call(
		0,
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		uintptr(MB_YESNO|MB_ICONQUESTION),
	)
	return ret == IDYES
}
