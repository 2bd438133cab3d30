package ports

import "github.com/ghalamif/AegisHealth/internal/domain"

type QueuedEnvelope struct {
	ID       WALEntryID
	Envelope *domain.Envelope
}

type EnvelopeQueue interface {
	Enqueue(id WALEntryID, e *domain.Envelope) bool
	DequeueBatch(max int) []QueuedEnvelope
	Len() int
}
