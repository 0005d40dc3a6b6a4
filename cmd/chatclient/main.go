// chatclient connects to a relay, prints the stored history, then relays
// stdin lines and prints everything the relay fans out.
// Usage: go run ./cmd/chatclient --url ws://localhost:4000 --api http://localhost:4000
//
// Optional environment variables for signed upgrades:
//
//	RELAY_KEY_ID           - Key ID expected by the relay
//	RELAY_PRIVATE_KEY_PATH - Path to the RSA private key PEM file
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/chatrelay/internal/api"
	"github.com/rickgao/chatrelay/internal/auth"
	"github.com/rickgao/chatrelay/internal/connection"
)

func main() {
	relayURL := flag.String("url", "ws://localhost:4000", "relay WebSocket URL")
	apiURL := flag.String("api", "http://localhost:4000", "history API base URL")
	header := flag.String("header", "", "extra upgrade header as Name:Value")
	reconnect := flag.Bool("reconnect", true, "redial when the connection dies")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := connection.DefaultManagerConfig()
	cfg.Reconnect = *reconnect
	cfg.Client.URL = *relayURL

	if *header != "" {
		name, value, ok := strings.Cut(*header, ":")
		if !ok {
			logger.Error("invalid header, want Name:Value", "header", *header)
			os.Exit(1)
		}
		cfg.Client.Header = http.Header{}
		cfg.Client.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	if keyPath := os.Getenv("RELAY_PRIVATE_KEY_PATH"); keyPath != "" {
		creds, err := auth.LoadCredentials(os.Getenv("RELAY_KEY_ID"), keyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		cfg.Client.Credentials = creds
	}

	apiClient := api.NewClient(*apiURL, "",
		api.WithLogger(logger),
		api.WithTimeout(10*time.Second),
		api.WithRetries(2, 500*time.Millisecond),
	)
	mgr := connection.NewManager(cfg, apiClient, nil, logger)
	defer mgr.Close()

	messages, err := mgr.Open(ctx)
	if err != nil {
		logger.Error("failed to connect", "url", *relayURL, "error", err)
		os.Exit(1)
	}
	for _, m := range messages {
		fmt.Printf("[%s] %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.Text)
	}
	fmt.Fprintf(os.Stderr, "connected to %s (%d messages in history)\n", *relayURL, len(messages))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := mgr.Send(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		case msg := <-mgr.Messages():
			fmt.Printf("> %s\n", msg.Text())
		case err := <-mgr.Errors():
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
			return
		}
	}
}
