// Command basic drives a few readings through an in-memory runtime and
// prints how damage and remaining life evolve.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ghalamif/AegisHealth"
)

func main() {
	walDir, err := os.MkdirTemp("", "aegis-basic-wal")
	if err != nil {
		log.Fatalf("wal dir: %v", err)
	}
	defer os.RemoveAll(walDir)

	cfg, err := aegishealth.ParseConfig([]byte("store:\n  driver: memory\nwal:\n  dir: " + walDir + "\n"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	rt, err := aegishealth.NewRuntime(cfg)
	if err != nil {
		log.Fatalf("runtime: %v", err)
	}
	ctx := context.Background()
	defer rt.Shutdown(ctx)

	loads := []float64{60, 80, 95, 110, 90}
	for i, load := range loads {
		st, err := rt.Ingest(ctx, "plant-a", "press-04", aegishealth.Reading{
			Load:        aegishealth.Float(load),
			Temperature: aegishealth.Float(55 + float64(i)*5),
			Sequence:    uint64(i + 1),
		})
		if err != nil {
			log.Fatalf("ingest seq %d: %v", i+1, err)
		}
		fmt.Printf("seq=%d load=%5.1f damage=%.6f rul=%.1f confidence=%.2f\n",
			st.LastSequence, load, st.CumulativeDamage, st.RUL, st.Confidence)
	}
}
