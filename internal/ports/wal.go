package ports

import "github.com/ghalamif/AegisHealth/internal/domain"

type WALEntryID uint64

type WAL interface {
	Append(e *domain.Envelope) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, e *domain.Envelope) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
	Close() error
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
