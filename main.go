package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/oauth2"

	"vintagemap/internal/auth"
	"vintagemap/internal/config"
	"vintagemap/internal/ingest"
	"vintagemap/internal/logging"
	"vintagemap/internal/store"
	"vintagemap/internal/strava"
	"vintagemap/internal/tui"
)

// localSession is the session row the terminal client keeps its credential under
const localSession = "local"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		path, _ := config.FindConfigFile()
		if path == "" {
			fmt.Println("No config file found. Creating example config...")
			path, err = config.CreateExample()
			if err != nil {
				return fmt.Errorf("creating example config: %w", err)
			}
			fmt.Printf("\nPlease edit the config file at:\n  %s\n\n", path)
			fmt.Println("You need to add your Strava API credentials.")
			fmt.Println("Get them from: https://www.strava.com/settings/api")
			return nil
		}
		fmt.Printf("Config validation failed: %v\n\n", err)
		fmt.Printf("Please edit the config file at:\n  %s\n", path)
		return nil
	}

	// Log to a file so the TUI owns the terminal
	logPath := cfg.Logging.File
	if logPath == "" {
		logPath = filepath.Join(filepath.Dir(cfg.Database.Path), "vintagemap.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "json", Output: logFile})

	// Open database
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if _, err := db.EnsureSession(ctx, localSession); err != nil {
		return fmt.Errorf("preparing session: %w", err)
	}

	oauthCfg := auth.NewOAuthConfig(auth.Config{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RedirectURL:  auth.CallbackURL(),
		TokenURL:     cfg.Strava.TokenURL,
	})
	manager := auth.NewManager(oauthCfg, db)

	tokens, err := manager.ForSession(ctx, localSession)
	if err != nil {
		return fmt.Errorf("checking auth: %w", err)
	}

	// Check for existing auth; an expired token is refreshed here
	if tokens.State() == auth.Unauthenticated {
		fmt.Println("No authentication found. Starting OAuth flow...")
		if err := authenticate(ctx, tokens, oauthCfg); err != nil {
			return fmt.Errorf("authentication: %w", err)
		}
	} else if _, err := tokens.Acquire(ctx); err != nil {
		fmt.Println("Stored token is invalid or expired. Re-authenticating...")
		if err := authenticate(ctx, tokens, oauthCfg); err != nil {
			return fmt.Errorf("re-authentication: %w", err)
		}
	}

	client := strava.NewClient(strava.ClientConfig{
		BaseURL:     cfg.Strava.APIBaseURL,
		Timeout:     cfg.Strava.Timeout,
		MinInterval: cfg.Strava.MinInterval,
	})
	gateway := client.ForSession(tokens)

	sink := ingest.NewMemorySink()
	queue := ingest.NewQueue(gateway, sink, ingest.Config{
		Pause:            cfg.Ingest.Pause,
		ConfirmThreshold: cfg.Ingest.ConfirmThreshold,
	})

	// Launch TUI
	app := tui.NewApp(ctx, gateway, tokens, queue, sink, cfg.Display)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}

	return nil
}

func authenticate(ctx context.Context, tokens *auth.TokenStore, oauthCfg *oauth2.Config) error {
	cred, err := auth.Authenticate(ctx, oauthCfg, func(authURL string) {
		fmt.Println("\nOpen this URL in your browser to connect your Strava account:")
		fmt.Printf("\n  %s\n\n", authURL)
		fmt.Println("Waiting for authorization...")
	})
	if err != nil {
		return err
	}

	if err := tokens.Grant(ctx, cred); err != nil {
		return fmt.Errorf("saving auth: %w", err)
	}

	fmt.Println()
	fmt.Printf("Successfully authenticated as %s!\n", cred.Athlete)
	return nil
}
