package ports

import "github.com/ghalamif/AegisHealth/internal/domain"

// Collector streams readings from a telemetry source into the pipeline.
type Collector interface {
	Start(out chan<- *domain.Envelope) error
	Stop() error
}
