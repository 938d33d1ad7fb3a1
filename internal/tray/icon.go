package tray

// iconData is the tray icon image (ICO on Windows, PNG elsewhere, per
// getlantern/systray's SetIcon). No icon asset was included with the
// retrieved sources; an empty slice makes SetIcon a no-op rather than a
// build failure, leaving room for a real asset to be dropped in later.
var iconData []byte
