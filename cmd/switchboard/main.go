// Switchboard bridges conversational messages between an LLM-driven
// agent and external messaging platforms. This command hosts the
// channel connectivity layer: it keeps each configured platform link
// alive and prints canonical inbound messages; an embedding agent
// consumes the same streams through the channel.Channel interface.
//
// Usage:
//
//	switchboard serve              Run the configured channels
//	switchboard login-qr           Interactive Zalo QR login
//	switchboard version            Print version and build information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wrenly/switchboard/internal/buildinfo"
	"github.com/wrenly/switchboard/internal/channel"
	"github.com/wrenly/switchboard/internal/config"
	"github.com/wrenly/switchboard/internal/discord"
	"github.com/wrenly/switchboard/internal/webhook"
	"github.com/wrenly/switchboard/internal/zalo"
)

// main constructs the OS-level environment and delegates to run, so the
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand to keep
// package-level flag state out of tests.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "login-qr":
		return runLoginQR(ctx, stdout, configPath)
	case "version":
		for k, v := range buildinfo.Info() {
			fmt.Fprintf(stdout, "%s: %s\n", k, v)
		}
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "usage: switchboard [-config path] <serve|login-qr|version>")
	return nil
}

// loadConfig resolves and loads the YAML config and builds the logger.
func loadConfig(configPath string) (*config.Config, *slog.Logger, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	logger, err := config.NewLogger(os.Stdout, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// runServe connects every enabled channel, runs its listener, and logs
// canonical inbound messages until interrupted.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info(buildinfo.String())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var channels []channel.Channel

	if cfg.Discord.Enabled {
		channels = append(channels, discord.New(discord.Config{
			BotToken: cfg.Discord.BotToken,
			Intents:  cfg.Discord.Intents,
			Logger:   logger,
		}))
	}
	if cfg.Zalo.Enabled {
		channels = append(channels, zalo.New(zalo.Config{
			IMEI:      cfg.Zalo.IMEI,
			Cookie:    cfg.Zalo.Cookie,
			UserAgent: cfg.Zalo.UserAgent,
			Logger:    logger,
		}))
	}

	var hook *webhook.Channel
	if cfg.Webhook.Enabled {
		hook = webhook.New(webhook.Config{
			Secret:      cfg.Webhook.Secret,
			OutboundURL: cfg.Webhook.OutboundURL,
			Logger:      logger,
		})
		channels = append(channels, hook)
	}

	if len(channels) == 0 {
		return errors.New("no channels enabled in config")
	}

	var wg sync.WaitGroup
	var streams []*channel.Stream

	for _, ch := range channels {
		if err := ch.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", ch.Name(), err)
		}
		stream, err := ch.Listen(ctx)
		if err != nil {
			return fmt.Errorf("listen %s: %w", ch.Name(), err)
		}
		streams = append(streams, stream)

		logger.Info("channel running", "channel", ch.Name(), "kind", string(ch.Kind()))

		wg.Add(1)
		go func(name string, stream *channel.Stream) {
			defer wg.Done()
			for msg := range stream.Messages() {
				logger.Info("inbound message",
					"channel", msg.Channel,
					"thread_id", msg.ThreadID,
					"sender", msg.SenderID,
					"kind", string(msg.Kind),
					"content_len", len(msg.Content),
				)
			}
			logger.Info("channel stream ended", "channel", name)
		}(ch.Name(), stream)
	}

	// Inbound webhook endpoint.
	var httpSrv *http.Server
	if hook != nil {
		mux := http.NewServeMux()
		mux.Handle("/webhook", hook.Handler())
		httpSrv = &http.Server{
			Addr:              cfg.Webhook.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("webhook endpoint listening", "addr", cfg.Webhook.Listen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("webhook server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}
	for _, ch := range channels {
		_ = ch.Disconnect()
	}
	for _, stream := range streams {
		stream.Close()
	}
	wg.Wait()

	return nil
}

// runLoginQR drives the interactive Zalo QR handshake: it saves the
// server-rendered code image, reports scan progress, and prints the
// resulting account ID on success.
func runLoginQR(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := zalo.New(zalo.Config{
		IMEI:      cfg.Zalo.IMEI,
		UserAgent: cfg.Zalo.UserAgent,
		Logger:    logger,
	})

	err = ch.LoginQR(ctx, func(s zalo.Status) {
		switch s.Phase {
		case zalo.PhasePending:
			if err := zalo.RenderTerminal(stdout, s.Code); err != nil {
				logger.Debug("terminal QR render failed", "error", err)
			}
			const imagePath = "zalo-login-qr.png"
			if err := zalo.WritePNG(imagePath, &zalo.QRCode{Code: s.Code, Image: s.Image}); err != nil {
				fmt.Fprintf(stdout, "could not save QR image: %v\n", err)
				return
			}
			fmt.Fprintf(stdout, "QR code saved to %s. Scan it with the Zalo app, then confirm on your phone.\n", imagePath)
		case zalo.PhaseScanned:
			fmt.Fprintf(stdout, "Scanned by %s. Confirm the login on your phone.\n", s.DisplayName)
		case zalo.PhaseConfirmed:
			fmt.Fprintln(stdout, "Login confirmed.")
		case zalo.PhaseExpired:
			fmt.Fprintln(stdout, "QR code expired. Run login-qr again for a fresh code.")
		case zalo.PhaseDeclined:
			fmt.Fprintln(stdout, "Login declined.")
		}
	})
	if err != nil {
		return fmt.Errorf("zalo login: %w", err)
	}

	sess := ch.Session()
	fmt.Fprintf(stdout, "Logged in as uid %s.\n", sess.UID)
	fmt.Fprintln(stdout, "Add the session cookie to your config to reconnect without scanning:")
	fmt.Fprintf(stdout, "  zalo:\n    cookie: %q\n", sess.Cookie)
	return nil
}
