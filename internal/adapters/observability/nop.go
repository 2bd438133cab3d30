package observability

import (
	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// Nop discards everything. It is the default when no backend is wired.
type Nop struct{}

func (Nop) LogInfo(string, ...ports.Field) {}
func (Nop) LogWarn(string, ...ports.Field) {}
func (Nop) LogError(string, error, ...ports.Field) {}
func (Nop) LogCritical(string, error, ...ports.Field) {}
func (Nop) IncCounter(string, float64) {}
func (Nop) ObserveLatency(string, float64) {}
func (Nop) SetGauge(string, float64) {}
func (Nop) SetAssetHealth(domain.AssetReliabilityState) {}
func (Nop) RecordDLQ(ports.WALEntryID, *domain.Envelope, error) {}

var _ ports.Observability = Nop{}
