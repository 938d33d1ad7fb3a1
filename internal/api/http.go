// Package api exposes the agent's local HTTP surface: the bridge's own
// status endpoints (spec.md §1 scope) plus the ambient process endpoints
// (health, version, settings, logs, crashes, autostart, updates) carried
// over from the teacher's internal/api/http.go. There is no inventory,
// card, or catalog HTTP surface here — those stay internal library calls,
// per SPEC_FULL.md §1's "HTTP surface external to the bridge's own status
// endpoints" exclusion.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/openspool/tagbridge-agent/internal/bridge"
	"github.com/openspool/tagbridge-agent/internal/logging"
	"github.com/openspool/tagbridge-agent/internal/service"
	"github.com/openspool/tagbridge-agent/internal/settings"
	"github.com/openspool/tagbridge-agent/internal/updater"
)

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	// If version wasn't set via ldflags, this is a dev build
	if Version == "" {
		Version = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			var vcsRevision, vcsTime string
			var vcsModified bool
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					vcsRevision = setting.Value
				case "vcs.time":
					vcsTime = setting.Value
				case "vcs.modified":
					vcsModified = setting.Value == "true"
				}
			}
			if vcsRevision != "" {
				shortCommit := vcsRevision
				if len(shortCommit) > 7 {
					shortCommit = shortCommit[:7]
				}
				GitCommit = vcsRevision
				Version = "dev-" + shortCommit
				if vcsModified {
					Version += "-dirty"
				}
			}
			if vcsTime != "" {
				BuildTime = vcsTime
			}
		}
	}
}

// shutdownHandler is called when a shutdown is requested via API
var shutdownHandler func()

// updateChecker handles checking for updates from GitHub
var updateChecker *updater.Checker

// session is the bridge session whose connection state the status
// endpoints report.
var session *bridge.Session

// SetShutdownHandler sets the callback for shutdown requests
func SetShutdownHandler(handler func()) {
	shutdownHandler = handler
}

// InitUpdateChecker initializes the update checker with the current version
func InitUpdateChecker() {
	updateChecker = updater.NewChecker(Version)
}

// SetSession registers the bridge session backing the status endpoints and
// the websocket upgrade handler.
func SetSession(s *bridge.Session) {
	session = s
}

// NewMux constructs and returns the HTTP mux for the API.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/bridge", BridgeHandler())
	mux.HandleFunc("/v1/bridge/status", corsMiddleware(handleBridgeStatus))
	mux.HandleFunc("/v1/version", corsMiddleware(handleVersion))
	mux.HandleFunc("/v1/health", corsMiddleware(handleHealth))
	mux.HandleFunc("/v1/logs", corsMiddleware(handleLogs))
	mux.HandleFunc("/v1/crashes", corsMiddleware(handleCrashes))
	mux.HandleFunc("/v1/settings", corsMiddleware(handleSettings))
	mux.HandleFunc("/v1/shutdown", corsMiddleware(handleShutdown))
	mux.HandleFunc("/v1/autostart", corsMiddleware(handleAutostart))
	mux.HandleFunc("/v1/updates", corsMiddleware(handleUpdates))
	return mux
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				ctx := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				logging.CapturePanic(rec, stack, ctx)
				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", ctx, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"stack":  string(stack),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				crashFile, err := logging.WriteCrashLog(rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}
				fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", ctx, rec, string(stack))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		recoveryMiddleware(next)(w, r)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // error ignored: header already sent
}

// handleBridgeStatus is the bridge's own status endpoint (spec.md §1): it
// reports whether a reader is attached and which device last announced
// itself, without exposing any tag data.
func handleBridgeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	connected := session != nil && session.IsConnected()
	device := ""
	if session != nil {
		device = session.DeviceName()
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected": connected,
		"device":    device,
	})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	}

	if updateChecker != nil {
		info := updateChecker.Check(false) // use cached result
		response["updateAvailable"] = info.Available
		if info.LatestVersion != "" {
			response["latestVersion"] = info.LatestVersion
		}
		if info.ReleaseURL != "" {
			response["releaseUrl"] = info.ReleaseURL
		}
	}

	respondJSON(w, http.StatusOK, response)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"bridgeConnected": session != nil && session.IsConnected(),
	})
}

func handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if shutdownHandler == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "shutdown not available",
		})
		return
	}

	logging.Info(logging.CatSystem, "shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "shutting down",
	})

	go shutdownHandler()
}

func handleAutostart(w http.ResponseWriter, r *http.Request) {
	svc := service.New()

	switch r.Method {
	case http.MethodGet:
		installed := svc.IsInstalled()
		status, _ := svc.Status()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": installed,
			"status":  status,
		})

	case http.MethodPost:
		if svc.IsInstalled() {
			respondJSON(w, http.StatusOK, map[string]string{"success": "auto-start already enabled"})
			return
		}
		if err := svc.Install(); err != nil {
			logging.Error(logging.CatSystem, "failed to enable auto-start", map[string]any{"error": err.Error()})
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		logging.Info(logging.CatSystem, "auto-start enabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{"success": "auto-start enabled"})

	case http.MethodDelete:
		if !svc.IsInstalled() {
			respondJSON(w, http.StatusOK, map[string]string{"success": "auto-start already disabled"})
			return
		}
		if err := svc.Uninstall(); err != nil {
			logging.Error(logging.CatSystem, "failed to disable auto-start", map[string]any{"error": err.Error()})
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		logging.Info(logging.CatSystem, "auto-start disabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{"success": "auto-start disabled"})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	entries := logging.Recent(limit)
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if string(e.Category) == category {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func handleCrashes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if filename := query.Get("file"); filename != "" {
		content, err := logging.ReadCrashLog(filename)
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "crash log not found: " + err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"filename": filename, "content": content})
		return
	}

	limit := 20
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
			if limit > 100 {
				limit = 100
			}
		}
	}

	logs, err := logging.GetCrashLogs(limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list crash logs: " + err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"crashes": logs, "crashDir": logging.CrashLogDir()})
}

// handleSettings handles GET and POST requests for user settings.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s := settings.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting":              s.CrashReporting,
			"catalogBaseUrl":              s.CatalogBaseURL,
			"catalogCacheDir":             s.CatalogCacheDir,
			"bridgeRequestTimeoutSeconds": s.BridgeRequestTimeoutSeconds,
		})

	case http.MethodPost:
		var req struct {
			CrashReporting              *bool   `json:"crashReporting"`
			CatalogBaseURL              *string `json:"catalogBaseUrl"`
			CatalogCacheDir             *string `json:"catalogCacheDir"`
			BridgeRequestTimeoutSeconds *int    `json:"bridgeRequestTimeoutSeconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
			return
		}

		if req.CrashReporting != nil {
			if err := settings.SetCrashReporting(*req.CrashReporting); err != nil {
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save settings: " + err.Error()})
				return
			}
		}

		s := settings.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting": s.CrashReporting,
			"message":        "Settings updated. Restart may be required for some changes to take effect.",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// handleUpdates checks for available updates from GitHub releases.
func handleUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if updateChecker == nil {
		InitUpdateChecker()
	}

	forceRefresh := r.URL.Query().Get("refresh") == "true"
	info := updateChecker.Check(forceRefresh)
	respondJSON(w, http.StatusOK, info)
}
