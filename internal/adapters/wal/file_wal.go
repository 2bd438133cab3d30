package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

const (
	logName  = "wal.log"
	metaName = "wal.meta"

	// record layout: crc32c(4) | id(8) | len(4) | json body
	headerLen = 16
	maxBody   = 16 << 20
)

var (
	crcTable = crc32.MakeTable(crc32.Castagnoli)

	// errTorn marks a record that was only partly written or fails its
	// checksum. At the end of the log it is cut away on open.
	errTorn = errors.New("wal: torn record")
)

// Option tunes a FileWAL.
type Option func(*FileWAL)

// WithSync fsyncs the log after every append instead of relying on the page
// cache.
func WithSync() Option {
	return func(w *FileWAL) { w.fsync = true }
}

// FileWAL is an append-only, checksummed log of envelopes. Commit records the
// highest entry the ingest loop has settled; TruncateCommitted compacts those
// entries away.
type FileWAL struct {
	mu        sync.Mutex
	dir       string
	file      *os.File
	buf       *bufio.Writer
	fsync     bool
	lastID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
}

type walMeta struct {
	Committed uint64 `json:"committed"`
}

func NewFileWAL(dir string, opts ...Option) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	w := &FileWAL{dir: dir}
	for _, opt := range opts {
		opt(w)
	}

	committed, err := readMeta(w.metaPath())
	if err != nil {
		return nil, err
	}
	w.committed = committed

	lastID, validLen, err := intactPrefix(w.logPath())
	if err != nil {
		return nil, err
	}
	if err := w.openForAppend(validLen); err != nil {
		return nil, err
	}
	w.lastID = max(lastID, committed)
	return w, nil
}

func (w *FileWAL) logPath() string  { return filepath.Join(w.dir, logName) }
func (w *FileWAL) metaPath() string { return filepath.Join(w.dir, metaName) }

// openForAppend opens the log, cutting it to size bytes.
func (w *FileWAL) openForAppend(size int64) error {
	f, err := os.OpenFile(w.logPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("wal: cut torn tail: %w", err)
	}
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 64<<10)
	w.sizeBytes = size
	return nil
}

// intactPrefix walks the log and returns the last intact id and the byte
// length of the intact prefix.
func intactPrefix(path string) (ports.WALEntryID, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("wal: open for recovery: %w", err)
	}
	defer f.Close()

	rr := newRecordReader(f)
	var last ports.WALEntryID
	for {
		id, _, err := rr.next()
		if errors.Is(err, io.EOF) || errors.Is(err, errTorn) {
			return last, rr.offset, nil
		}
		if err != nil {
			return 0, 0, err
		}
		last = id
	}
}

type recordReader struct {
	r      *bufio.Reader
	offset int64
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: bufio.NewReader(r)}
}

// next returns io.EOF at a clean end and errTorn for a partial or corrupt
// record. offset only advances past intact records.
func (rr *recordReader) next() (ports.WALEntryID, []byte, error) {
	var hdr [headerLen]byte
	n, err := io.ReadFull(rr.r, hdr[:])
	switch {
	case errors.Is(err, io.EOF) && n == 0:
		return 0, nil, io.EOF
	case err != nil:
		return 0, nil, errTorn
	}

	size := binary.BigEndian.Uint32(hdr[12:16])
	if size > maxBody {
		return 0, nil, errTorn
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(rr.r, body); err != nil {
		return 0, nil, errTorn
	}

	crc := crc32.Update(crc32.Checksum(hdr[4:], crcTable), crcTable, body)
	if crc != binary.BigEndian.Uint32(hdr[0:4]) {
		return 0, nil, errTorn
	}
	rr.offset += headerLen + int64(size)
	return ports.WALEntryID(binary.BigEndian.Uint64(hdr[4:12])), body, nil
}

func encodeRecord(dst io.Writer, id ports.WALEntryID, body []byte) (int64, error) {
	var hdr [headerLen]byte
	binary.BigEndian.PutUint64(hdr[4:12], uint64(id))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(body)))
	crc := crc32.Update(crc32.Checksum(hdr[4:], crcTable), crcTable, body)
	binary.BigEndian.PutUint32(hdr[0:4], crc)

	if _, err := dst.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := dst.Write(body); err != nil {
		return 0, err
	}
	return headerLen + int64(len(body)), nil
}

// Append makes e durable and returns its id. Ids are dense and increase
// across restarts and compactions.
func (w *FileWAL) Append(e *domain.Envelope) (ports.WALEntryID, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("wal: encode %s: %w", e.Key, err)
	}
	if len(body) > maxBody {
		return 0, fmt.Errorf("wal: %s: record of %d bytes exceeds limit", e.Key, len(body))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.lastID + 1
	n, err := encodeRecord(w.buf, id, body)
	if err == nil {
		err = w.buf.Flush()
	}
	if err == nil && w.fsync {
		err = w.file.Sync()
	}
	if err != nil {
		return 0, fmt.Errorf("wal: append %d: %w", id, err)
	}

	w.lastID = id
	w.sizeBytes += n
	return id, nil
}

// Iterate calls fn for every entry with id >= from, in id order. A corrupt
// record in the middle of the log is an error.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, e *domain.Envelope) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.scanLocked(func(id ports.WALEntryID, body []byte) error {
		if id < from {
			return nil
		}
		var env domain.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("wal: decode entry %d: %w", id, err)
		}
		return fn(id, &env)
	})
}

func (w *FileWAL) scanLocked(fn func(id ports.WALEntryID, body []byte) error) error {
	f, err := os.Open(w.logPath())
	if err != nil {
		return err
	}
	defer f.Close()

	rr := newRecordReader(io.LimitReader(f, w.sizeBytes))
	for {
		id, body, err := rr.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("wal: entry after offset %d: %w", rr.offset, err)
		}
		if err := fn(id, body); err != nil {
			return err
		}
	}
}

// Commit marks every entry up to and including upto as settled. The mark
// never moves backwards.
func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto <= w.committed {
		return nil
	}
	if err := writeMeta(w.metaPath(), upto); err != nil {
		return err
	}
	w.committed = upto
	return nil
}

// TruncateCommitted rewrites the log keeping only uncommitted entries.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return err
	}

	tmpPath := w.logPath() + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("wal: compact: %w", err)
	}
	out := bufio.NewWriter(tmp)
	var kept int64
	err = w.scanLocked(func(id ports.WALEntryID, body []byte) error {
		if id <= w.committed {
			return nil
		}
		n, err := encodeRecord(out, id, body)
		kept += n
		return err
	})
	if err == nil {
		err = out.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("wal: compact: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.logPath()); err != nil {
		return fmt.Errorf("wal: compact rename: %w", err)
	}
	return w.openForAppend(kept)
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.lastID,
		SizeBytes:         w.sizeBytes,
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	flushErr := w.buf.Flush()
	return errors.Join(flushErr, w.file.Close())
}

func readMeta(path string) (ports.WALEntryID, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wal: read meta: %w", err)
	}
	var m walMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, fmt.Errorf("wal: parse meta: %w", err)
	}
	return ports.WALEntryID(m.Committed), nil
}

// writeMeta replaces the meta file atomically so a crash leaves either the
// old or the new commit mark.
func writeMeta(path string, committed ports.WALEntryID) error {
	raw, err := json.Marshal(walMeta{Committed: uint64(committed)})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("wal: write meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("wal: replace meta: %w", err)
	}
	return nil
}

var _ ports.WAL = (*FileWAL)(nil)
