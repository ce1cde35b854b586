package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mattbnz/LLMux/internal/apikey"
	"github.com/mattbnz/LLMux/internal/auth"
	"github.com/mattbnz/LLMux/internal/config"
	"github.com/mattbnz/LLMux/internal/server"
)

func main() {
	// Missing .env is fine; env vars still apply.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: llmux <command> [flags]")
		fmt.Fprintln(os.Stderr, "Commands: serve, login, keys")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe())
	case "login":
		os.Exit(cmdLogin())
	case "keys":
		os.Exit(cmdKeys())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Commands: serve, login, keys")
		os.Exit(1)
	}
}

func setupLogging(cfg *config.ServerConfig) {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		})
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}

func cmdServe() int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.DefaultFromEnv()

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.BoolVar(&cfg.RequireAPIKey, "require-api-key", cfg.RequireAPIKey, "Require a local API key on API routes")
	fs.StringVar(&cfg.UsageDBFile, "usage-db", cfg.UsageDBFile, "SQLite file for usage aggregates (empty disables recording)")
	fs.StringVar(&cfg.KeysFile, "keys-file", cfg.KeysFile, "JSON file holding local API keys")
	fs.StringVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Prompt cache TTL annotation (5m or 1h)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this file, with rotation")
	fs.IntVar(&cfg.DefaultMaxTokens, "default-max-tokens", cfg.DefaultMaxTokens, "max_tokens when the client omits it")
	fs.Parse(os.Args[2:])

	setupLogging(cfg)

	srv, err := server.New(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}

	if cfg.RequireAPIKey && srv.Keys.Empty() {
		slog.Warn("API key auth is enabled but no keys exist; run: llmux keys generate")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("LLMux starting", "host", cfg.Host, "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

func cmdLogin() int {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	noBrowser := fs.Bool("no-browser", false, "Do not open the browser automatically")
	fs.Parse(os.Args[2:])

	cfg := auth.NewOAuth2Config(config.ClientID(), config.AuthorizeURL(), config.TokenURL())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := auth.Login(ctx, cfg, func(authURL string) {
		if !*noBrowser {
			openBrowser(authURL)
		}
		fmt.Fprintf(os.Stderr, "If your browser did not open, navigate to:\n%s\n", authURL)
	}); err != nil {
		slog.Error("login failed", "error", err)
		return 1
	}
	slog.Info("login successful; tokens saved")
	return 0
}

func cmdKeys() int {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: llmux keys <generate|list|revoke> [flags]")
		return 1
	}

	cfg := config.DefaultFromEnv()
	store, err := apikey.Open(cfg.KeysFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open key store: %v\n", err)
		return 1
	}

	switch os.Args[2] {
	case "generate":
		fs := flag.NewFlagSet("keys generate", flag.ExitOnError)
		name := fs.String("name", "", "Display name for the key")
		fs.Parse(os.Args[3:])

		key, plaintext, err := store.Generate(*name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
			return 1
		}
		fmt.Printf("id:   %s\n", key.ID)
		if key.Name != "" {
			fmt.Printf("name: %s\n", key.Name)
		}
		fmt.Printf("key:  %s\n", plaintext)
		fmt.Println("Store this key now; it cannot be shown again.")
		return 0

	case "list":
		keys := store.List()
		if len(keys) == 0 {
			fmt.Println("No keys.")
			return 0
		}
		for _, k := range keys {
			name := k.Name
			if name == "" {
				name = "-"
			}
			fmt.Printf("%s  %s  created %s\n", k.ID, name, k.CreatedAt.Format(time.RFC3339))
		}
		return 0

	case "revoke":
		fs := flag.NewFlagSet("keys revoke", flag.ExitOnError)
		id := fs.String("id", "", "Key id to revoke")
		fs.Parse(os.Args[3:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "keys revoke requires -id")
			return 1
		}
		if err := store.Revoke(*id); err != nil {
			fmt.Fprintf(os.Stderr, "failed to revoke key: %v\n", err)
			return 1
		}
		fmt.Println("Key revoked.")
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown keys subcommand: %s\n", os.Args[2])
		return 1
	}
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("failed to open browser", "error", err)
	}
}
