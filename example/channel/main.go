// Command channel consumes runtime events from a channel and keeps the
// lowest remaining useful life seen per asset.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/AegisHealth"
)

func main() {
	flow, err := aegishealth.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier, events, closeEvents := aegishealth.NewChannelNotifier(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchRUL(events)
	}()

	err = flow.Run(ctx, aegishealth.StreamOutNotifier(notifier))
	closeEvents()
	<-done
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}

func watchRUL(events <-chan aegishealth.Event) {
	lowest := make(map[string]float64)
	for ev := range events {
		if ev.Topic != aegishealth.TopicRULRecalculated {
			continue
		}
		var r aegishealth.RULRecalculated
		if err := json.Unmarshal(ev.Payload, &r); err != nil {
			log.Printf("skip %s: %v", ev.Key, err)
			continue
		}
		if prev, ok := lowest[ev.Key]; ok && r.RUL >= prev {
			continue
		}
		lowest[ev.Key] = r.RUL
		log.Printf("%s new low rul=%.1f confidence=%.2f (v%d)", ev.Key, r.RUL, r.Confidence, r.Version)
	}
}
