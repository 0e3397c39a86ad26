// Package main provides an interactive chat client for the assistant service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/xiaot623/convo/internal/config"
	"github.com/xiaot623/convo/internal/conversation"
	"github.com/xiaot623/convo/internal/credentials"
	"github.com/xiaot623/convo/internal/domain"
	"github.com/xiaot623/convo/internal/gateway"
	"github.com/xiaot623/convo/internal/transport"
)

func main() {
	cfg := config.Load()

	transportKind := flag.String("transport", cfg.Transport, "Transport to use: http or ws")
	baseURL := flag.String("base-url", cfg.BaseURL, "Assistant service base URL")
	wsURL := flag.String("ws-url", cfg.WSURL, "Assistant service WebSocket URL")
	storeType := flag.String("credentials", cfg.CredentialStore, "Credential store: memory, file or redis")
	profile := flag.String("profile", cfg.Profile, "Credential profile")
	flag.Parse()

	log.SetFlags(log.Ltime)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.SlogLevel(cfg.LogLevel)}))

	ctx := context.Background()

	creds, err := openCredentials(ctx, cfg, credentials.StoreType(*storeType), *profile)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}

	var tr transport.Transport
	addr := *baseURL
	switch *transportKind {
	case "ws":
		ws := transport.NewWSClient(*wsURL, cfg.HTTPTimeout)
		defer ws.Close()
		tr = ws
		addr = *wsURL
	case "http":
		tr = transport.NewHTTPClient(*baseURL, cfg.HTTPTimeout)
	default:
		log.Fatalf("Unknown transport: %s", *transportKind)
	}

	ui := &terminal{out: os.Stdout, errOut: os.Stderr}
	state := conversation.NewState()
	state.Observe(ui.onChange)

	gw := gateway.New(tr, creds, state,
		gateway.WithNotifier(ui),
		gateway.WithNavigator(ui),
		gateway.WithLogger(logger),
		gateway.WithReplyTimeout(cfg.ReplyTimeout),
	)

	fmt.Printf("Using assistant service at %s.\n", addr)
	fmt.Println("Commands: /login <user> <pass>, /history, /clear, /logout, /quit")
	fmt.Println()

	if gw.IsAuthenticated() {
		if msgs, err := gw.LoadHistory(ctx); err == nil {
			ui.printHistory(msgs)
		}
	} else {
		ui.RedirectToAuth()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		ui.banner(gw.Banner())
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		line := scanner.Text()
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := runCommand(ctx, gw, state, ui, input); quit {
				fmt.Println("Bye!")
				return
			}
			continue
		}

		draft := gateway.NewDraft(line)
		if _, err := gw.Submit(ctx, draft); err != nil {
			handleSendError(err, draft)
		}
	}
}

// runCommand executes a slash command and reports whether the client should exit.
func runCommand(ctx context.Context, gw *gateway.Gateway, state *conversation.State, ui *terminal, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit":
		return true

	case "/login":
		if len(fields) != 3 {
			fmt.Println("Usage: /login <username> <password>")
			return false
		}
		if err := gw.Login(ctx, fields[1], fields[2]); err != nil {
			return false
		}
		fmt.Println("Logged in.")
		if msgs, err := gw.LoadHistory(ctx); err == nil {
			ui.printHistory(msgs)
		}

	case "/history":
		if _, err := gw.LoadHistory(ctx); err == nil {
			ui.printHistory(state.Messages())
		}

	case "/clear":
		if gw.ClearHistory(ctx) {
			fmt.Println("History cleared.")
		}

	case "/logout":
		gw.Logout()
		state.Clear()
		fmt.Println("Logged out.")

	default:
		fmt.Printf("Unknown command: %s\n", fields[0])
	}
	return false
}

func handleSendError(err error, draft *gateway.Draft) {
	switch {
	case errors.Is(err, gateway.ErrEmptyMessage):
		return
	case errors.Is(err, gateway.ErrSendInFlight):
		fmt.Println("Still waiting for the previous reply.")
		return
	}
	if domain.KindOf(err).IsAuth() {
		return
	}
	if text := draft.Text(); text != "" {
		fmt.Printf("Not sent. Your message: %s\n", text)
	}
}

// openCredentials builds the configured credential store.
func openCredentials(ctx context.Context, cfg *config.Config, storeType credentials.StoreType, profile string) (credentials.Store, error) {
	opts := []credentials.StoreOption{
		credentials.WithProfile(profile),
		credentials.WithFilePath(cfg.CredentialFile),
	}
	if storeType == credentials.StoreTypeRedis {
		client, err := credentials.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credentials.WithRedisClient(client))
	}
	return credentials.NewStore(ctx, storeType, opts...)
}
