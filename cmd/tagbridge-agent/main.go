// Command tagbridge-agent is the local service fronting a Bambu-style
// filament tag reader: a websocket bridge to the reader process, a
// community dump catalog, and the cloning pipeline built on both, per
// SPEC_FULL.md §2.1 (mirrors the teacher's cmd/nfc-agent/main.go).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/openspool/tagbridge-agent/internal/api"
	"github.com/openspool/tagbridge-agent/internal/bridge"
	"github.com/openspool/tagbridge-agent/internal/clone"
	"github.com/openspool/tagbridge-agent/internal/config"
	"github.com/openspool/tagbridge-agent/internal/library"
	"github.com/openspool/tagbridge-agent/internal/logging"
	"github.com/openspool/tagbridge-agent/internal/service"
	"github.com/openspool/tagbridge-agent/internal/settings"
	"github.com/openspool/tagbridge-agent/internal/tray"
	"github.com/openspool/tagbridge-agent/internal/welcome"
)

// catalogRefreshInterval bounds how often StartAutoRefresh re-indexes the
// community dump catalog in the background (spec.md §5).
const catalogRefreshInterval = 6 * time.Hour

func main() {
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	noTrayFlag := flag.Bool("no-tray", false, "Run without system tray (headless mode)")
	headlessFlag := flag.Bool("headless", false, "Alias for -no-tray")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "TagBridge Agent - local filament-tag bridge service\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  tagbridge-agent [flags]\n")
		fmt.Fprintf(os.Stderr, "  tagbridge-agent <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  install     Install auto-start service\n")
		fmt.Fprintf(os.Stderr, "  uninstall   Remove auto-start service\n")
		fmt.Fprintf(os.Stderr, "  version     Print version information\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  TAGBRIDGE_HOST        Host to bind to (default: 127.0.0.1)\n")
		fmt.Fprintf(os.Stderr, "  TAGBRIDGE_PORT        Port to listen on (default: 32145)\n")
		fmt.Fprintf(os.Stderr, "  TAGBRIDGE_SENTRY      Force-enable/disable crash reporting (1/0)\n")
		fmt.Fprintf(os.Stderr, "  TAGBRIDGE_SENTRY_DSN  Sentry DSN to report crashes to\n")
	}

	flag.Parse()

	if *versionFlag {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		case "install":
			if err := installService(); err != nil {
				log.Fatalf("failed to install service: %v", err)
			}
			fmt.Println("Auto-start service installed successfully")
			return
		case "uninstall":
			if err := uninstallService(); err != nil {
				log.Fatalf("failed to uninstall service: %v", err)
			}
			fmt.Println("Auto-start service removed successfully")
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			flag.Usage()
			os.Exit(1)
		}
	}

	cfg := config.Load()
	run(cfg, *noTrayFlag || *headlessFlag || cfg.Headless)
}

func printVersion() {
	fmt.Printf("tagbridge-agent %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

func run(cfg *config.Config, headless bool) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			logging.CapturePanic(rec, stack, "main")

			crashFile, err := logging.WriteCrashLog(rec, stack)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "Crash log written to: %s\n", crashFile)
			}
			fmt.Fprintf(os.Stderr, "\n=== FATAL PANIC ===\n%v\n\nStack trace:\n%s\n", rec, string(stack))
			logging.Error(logging.CatSystem, fmt.Sprintf("fatal panic: %v", rec), map[string]any{
				"panic": fmt.Sprintf("%v", rec),
				"stack": string(stack),
			})
			os.Exit(1)
		}
	}()

	logging.Init(1000, logging.LevelDebug)

	userSettings, _ := settings.Load()

	if logging.InitSentry(api.Version, userSettings.CrashReporting) {
		defer logging.FlushSentry(2 * time.Second)
	}

	logging.Info(logging.CatSystem, "TagBridge Agent starting", map[string]any{
		"version": api.Version,
	})

	session := bridge.NewSession()
	api.SetSession(session)

	cat := library.NewCatalog(userSettings.CatalogCacheDir, userSettings.CatalogBaseURL, "")
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go cat.StartAutoRefresh(refreshCtx, catalogRefreshInterval, func(err error) {
		logging.Warn(logging.CatLibrary, "catalog auto-refresh failed", map[string]any{"error": err.Error()})
	})
	_ = clone.New(session, cat) // wired for library/test consumers; not exposed over HTTP (spec.md §1 scope)

	api.SetShutdownHandler(func() {
		log.Println("Shutting down...")
		stopRefresh()
		os.Exit(0)
	})

	mux := api.NewMux()
	addr := cfg.Address()

	startServer := func() {
		log.Printf("tagbridge-agent %s listening on http://%s\n", api.Version, addr)
		log.Printf("bridge websocket available at ws://%s/v1/bridge\n", addr)
		logging.Info(logging.CatSystem, "server started", map[string]any{"address": addr})

		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	useTray := !headless && tray.IsSupported()

	if useTray {
		log.Println("Starting with system tray...")

		if welcome.IsFirstRun() {
			go func() {
				welcome.ShowWelcome()

				svc := service.New()
				if !svc.IsInstalled() {
					if welcome.PromptAutostart() {
						if err := svc.Install(); err != nil {
							log.Printf("failed to enable auto-start: %v", err)
						} else {
							log.Println("auto-start enabled")
						}
					}
				}

				if welcome.PromptCrashReporting() {
					if err := settings.SetCrashReporting(true); err != nil {
						log.Printf("failed to save crash reporting setting: %v", err)
					} else {
						log.Println("crash reporting enabled")
					}
				}

				_ = welcome.MarkAsShown()
			}()
		}

		trayApp := tray.New(addr, session, func() {
			log.Println("Shutting down...")
			stopRefresh()
			os.Exit(0)
		})

		trayApp.RunWithServer(startServer)
	} else {
		if headless {
			log.Println("Running in headless mode (no system tray)")
		} else {
			log.Println("System tray not supported on this platform, running headless")
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			log.Println("Shutting down...")
			stopRefresh()
			os.Exit(0)
		}()

		startServer()
	}
}

func installService() error {
	return service.New().Install()
}

func uninstallService() error {
	return service.New().Uninstall()
}
