package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mentorchat/mentorchat/internal/bus"
	"github.com/mentorchat/mentorchat/internal/channel"
	"github.com/mentorchat/mentorchat/internal/client"
	"github.com/mentorchat/mentorchat/internal/config"
	"github.com/mentorchat/mentorchat/internal/logging"
	"github.com/mentorchat/mentorchat/internal/session"
	"github.com/mentorchat/mentorchat/internal/store"
	"github.com/mentorchat/mentorchat/internal/tui"
	"github.com/mentorchat/mentorchat/internal/wire"
)

func main() {
	serverFlag := flag.String("server", "", "hub URL (overrides config)")
	loginFlag := flag.String("login", "", "log in as this email and save the session")
	flag.Parse()

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}

	logger, err := logging.NewFileOnly(session.ClientLogPath(), "mentortui")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	st := store.New(cfg.ServerURL, cfg.Token, logger)

	// Probe hub health; auto-start a local one if needed.
	if !probeHub(st) {
		if isLocal(cfg.ServerURL) {
			fmt.Fprintf(os.Stderr, "hub not running at %s, starting...\n", cfg.ServerURL)
			if err := startHub(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to start hub: %v\n", err)
				os.Exit(1)
			}
			if !waitForHub(st, 10*time.Second) {
				fmt.Fprintf(os.Stderr, "hub did not become ready\n")
				os.Exit(1)
			}
		} else {
			fmt.Fprintf(os.Stderr, "hub unreachable at %s\n", cfg.ServerURL)
			os.Exit(1)
		}
	}

	if cfg.Token == "" || *loginFlag != "" {
		if err := login(st, cfg, *loginFlag); err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
	}

	b := bus.New()
	ch := channel.New(cfg.ServerURL, cfg.Token, b, logger)

	var app *tui.App
	engine := client.New(client.Options{
		Self:         cfg.Email,
		TriggerToken: cfg.TriggerToken,
		Store:        st,
		Bus:          b,
		Channel:      ch,
		Logger:       logger,
		OnChange: func() {
			if app != nil {
				app.Refresh()
			}
		},
		OnNotify: func(m *wire.Message) {
			if app != nil {
				app.Notify(m)
			}
		},
	})

	if err := engine.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer engine.Stop()

	app = tui.NewApp(engine, cfg)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// login exchanges an email for a token and saves the session. With no
// email argument, prompts on stdin.
func login(st *store.Client, cfg *config.Config, email string) error {
	if email == "" {
		fmt.Print("Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		email = strings.TrimSpace(line)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	token, canonical, err := st.Login(ctx, email)
	if err != nil {
		return err
	}
	cfg.Token = token
	cfg.Email = canonical
	return config.Save(session.ConfigPath(), cfg)
}

// probeHub checks if a hub is responsive with a real health call.
func probeHub(st *store.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return st.Health(ctx) == nil
}

func isLocal(serverURL string) bool {
	return strings.Contains(serverURL, "localhost") || strings.Contains(serverURL, "127.0.0.1")
}

func startHub() error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	mentord := filepath.Join(filepath.Dir(executable), "mentord")

	if _, err := os.Stat(mentord); err != nil {
		mentord = "mentord"
	}

	cmd := exec.Command(mentord)
	// Inherit stderr so hub startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForHub polls with the health endpoint (not just a TCP connect).
func waitForHub(st *store.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeHub(st) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
