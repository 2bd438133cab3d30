package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/AegisHealth/pkg/aegishealth"
)

func main() {
	flow, err := aegishealth.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, ev aegishealth.Event) error {
		switch ev.Topic {
		case aegishealth.TopicDamageUpdated:
			var d aegishealth.DamageUpdated
			if err := json.Unmarshal(ev.Payload, &d); err != nil {
				return err
			}
			fmt.Printf("%s/%s v%d damage=%.6f (+%.6f)\n", d.TenantID, d.AssetID, d.Version, d.Damage, d.Increment)
		case aegishealth.TopicRULRecalculated:
			var r aegishealth.RULRecalculated
			if err := json.Unmarshal(ev.Payload, &r); err != nil {
				return err
			}
			fmt.Printf("%s/%s v%d rul=%.1f confidence=%.2f\n", r.TenantID, r.AssetID, r.Version, r.RUL, r.Confidence)
		}
		return nil
	}

	if err := flow.Run(ctx, aegishealth.StreamOutCallback(callback)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}
