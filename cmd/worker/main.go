package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"props-system/config"
	"props-system/internal/events"
)

// The worker consumes movement events published by the API server and
// runs the out-of-band side effects: activity logging today, email and
// webhook notification later.
func main() {
	cfg := config.LoadConfig()
	redisClient := config.NewRedisClient(cfg.Redis)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Worker listening on channel %q", events.Channel)
	err := events.Subscribe(ctx, redisClient, func(evt events.Event) {
		log.Printf("movement: %s asset=%d (%s) barcode=%s by=%s at=%s",
			evt.Action, evt.AssetID, evt.Asset, evt.Barcode, evt.Actor, evt.At.Format("2006-01-02 15:04:05"))
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("Subscription failed: %v", err)
	}
	log.Println("Worker shutting down")
}
