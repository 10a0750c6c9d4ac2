// Command watch connects to a running server and logs the live event stream.
//
//	watch -url ws://localhost:3001/ws -topic 3
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pscheid92/askpulse/internal/client"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/pscheid92/askpulse/internal/platform/logging"
)

func main() {
	var (
		url     = flag.String("url", envOr("ASKPULSE_URL", "ws://localhost:3001/ws"), "WebSocket URL (or set ASKPULSE_URL env)")
		topic   = flag.Int64("topic", 0, "Question id whose scoped events to follow (0 for global events only)")
		format  = flag.String("format", "text", "Log format: text or json")
		verbose = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.Init(os.Stdout, level, *format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts client.Options
	if *topic > 0 {
		opts.Topics = []int64{*topic}
	}
	c := client.New(*url, opts)

	for _, t := range []domain.EventType{
		domain.EventNewQuestion,
		domain.EventNewAnswer,
		domain.EventVoteUpdated,
		domain.EventNotification,
		domain.EventPresenceCount,
		domain.EventError,
	} {
		c.Subscribe(t, func(m client.Message) {
			slog.Info("Event", "type", m.Type, "data", string(m.Data))
		})
	}

	c.OnConnectionChange(func(connected bool) {
		if !connected {
			slog.Warn("Disconnected")
			return
		}
		slog.Info("Connected", "url", *url, "topic", *topic)
	})

	if err := c.Run(ctx); err != nil {
		log.Fatalf("Watch failed: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
