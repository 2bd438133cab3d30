package opcua

import (
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisHealth/internal/domain"
)

// Reading fields a node can feed.
const (
	FieldLoad             = "load"
	FieldTemperature      = "temperature"
	FieldAmbientTemp      = "ambient_temp"
	FieldHumidity         = "humidity"
	FieldBaseDamageFactor = "base_damage_factor"
)

func validField(f string) bool {
	switch f {
	case FieldLoad, FieldTemperature, FieldAmbientTemp, FieldHumidity, FieldBaseDamageFactor:
		return true
	}
	return false
}

// SequenceSeed returns the last sequence already applied for an asset so a
// restarted collector continues numbering above it.
type SequenceSeed func(key domain.AssetKey) uint64

type assetFrame struct {
	values map[string]float64
	seq    uint64
	seeded bool
}

// Assembler folds per-node value changes into complete readings. A reading is
// emitted whenever load or temperature changes and both are known; the other
// fields carry their latest value when one was seen.
type Assembler struct {
	mu     sync.Mutex
	seed   SequenceSeed
	frames map[domain.AssetKey]*assetFrame
}

func NewAssembler(seed SequenceSeed) *Assembler {
	return &Assembler{seed: seed, frames: make(map[domain.AssetKey]*assetFrame)}
}

// Update records one value and returns the envelope to emit, if any.
func (a *Assembler) Update(node NodeConfig, value float64, ts time.Time) (*domain.Envelope, bool) {
	key := domain.AssetKey{TenantID: node.TenantID, AssetID: node.AssetID}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.frames[key]
	if !ok {
		f = &assetFrame{values: make(map[string]float64, 5)}
		a.frames[key] = f
	}
	f.values[node.Field] = value

	if node.Field != FieldLoad && node.Field != FieldTemperature {
		return nil, false
	}
	load, hasLoad := f.values[FieldLoad]
	temp, hasTemp := f.values[FieldTemperature]
	if !hasLoad || !hasTemp {
		return nil, false
	}

	if !f.seeded {
		f.seeded = true
		if a.seed != nil {
			f.seq = a.seed(key)
		}
	}
	f.seq++

	r := domain.TelemetryReading{
		Load:        domain.Float(load),
		Temperature: domain.Float(temp),
		Sequence:    f.seq,
		ReceivedAt:  ts,
		Payload:     map[string]any{"source_node_id": node.NodeID},
	}
	if v, ok := f.values[FieldAmbientTemp]; ok {
		r.AmbientTemp = domain.Float(v)
	}
	if v, ok := f.values[FieldHumidity]; ok {
		r.Humidity = domain.Float(v)
	}
	if v, ok := f.values[FieldBaseDamageFactor]; ok {
		r.BaseDamageFactor = domain.Float(v)
	}
	return &domain.Envelope{Key: key, Reading: r}, true
}

func (n NodeConfig) String() string {
	return fmt.Sprintf("%s -> %s/%s.%s", n.NodeID, n.TenantID, n.AssetID, n.Field)
}
