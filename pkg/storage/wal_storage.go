package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/shrtyk/logstream-core/pkg/protocol"
)

const (
	metadataFileName = "metadata.json"
	walFileName      = "log.wal"
	tmpSuffix        = ".tmp"
)

const entryHeaderSize = 8 // 4 bytes for length, 4 for CRC

//  ____________________________________________________________________ ...
// | Record length (4 byte) | CRC Hash (4 byte) | Position | Data length | Data ...
// |________________________|___________________|__________|_____________|_____ ...

var (
	crc32cTable = crc32.MakeTable(crc32.Castagnoli)
)

// walMetadata represents the data stored in metadata.json
type walMetadata struct {
	CommitPosition int64 `json:"commit_position"`
}

type opType int

const (
	opAppend opType = iota
	opCompact
)

type appendData struct {
	entries []protocol.Entry
	commit  int64
}

// persistRequest is a request sent to the persister worker.
type persistRequest struct {
	op      opType
	data    any
	errChan chan error
}

// WALStorage is a file backed partition log. Appends are handed to a
// background worker that batches them into a single write and fsync.
// Written entries are indexed in a MemoryLog for reads.
//
// Safe for concurrent use.
type WALStorage struct {
	mu        sync.Mutex
	logger    *slog.Logger
	dir       string
	appendCfg api.AppendCfg

	metadataPath string
	walPath      string

	index *MemoryLog
	// lastQueued is the highest position accepted for writing. It runs
	// ahead of the index while appends wait for their fsync.
	lastQueued int64
	closed     bool
	broken     atomic.Bool

	walFile      *os.File
	metadata     walMetadata
	opChan       chan *persistRequest
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

var _ api.LogStorage = (*WALStorage)(nil)

// NewWALStorage creates a new WALStorage and starts its background persister worker.
func NewWALStorage(dir string, log *slog.Logger, cfg api.AppendCfg) (*WALStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	ws := &WALStorage{
		logger:       log.With("component", "wal"),
		dir:          dir,
		appendCfg:    cfg,
		metadataPath: filepath.Join(dir, metadataFileName),
		walPath:      filepath.Join(dir, walFileName),
		index:        NewMemoryLog(),
		opChan:       make(chan *persistRequest, cfg.BatchSize*2),
		shutdownChan: make(chan struct{}),
	}

	if err := ws.load(); err != nil {
		return nil, fmt.Errorf("failed to load WAL data: %w", err)
	}
	ws.lastQueued = ws.index.LastPosition()

	walFile, err := os.OpenFile(ws.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file %s: %w", ws.walPath, err)
	}
	ws.walFile = walFile

	ws.wg.Add(1)
	go ws.persister()

	return ws, nil
}

// Close gracefully shuts down the persister worker and closes the WAL file.
func (ws *WALStorage) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	ws.mu.Unlock()

	close(ws.shutdownChan)
	ws.wg.Wait()
	return ws.walFile.Close()
}

// Append writes a replicated block. The block must continue the log.
// It returns the highest written position or -1 if the block was rejected
// or could not be made durable.
func (ws *WALStorage) Append(commitPosition int64, block []byte) int64 {
	entries, err := protocol.DecodeBlock(block)
	if err != nil || len(entries) == 0 {
		ws.logger.Warn("rejected malformed block", slog.Int("size", len(block)))
		return -1
	}

	errChan, err := ws.enqueue(entries, commitPosition)
	if err != nil {
		ws.logger.Warn("rejected block", logger.ErrAttr(err))
		return -1
	}
	if err := <-errChan; err != nil {
		ws.logger.Error("failed to persist block", logger.ErrAttr(err))
		return -1
	}
	return entries[len(entries)-1].Position
}

// AppendEntries writes entries produced locally and waits for them to be durable.
// Durable entries count as committed.
func (ws *WALStorage) AppendEntries(entries []protocol.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	errChan, err := ws.AppendAsync(entries)
	if err != nil {
		return err
	}
	return <-errChan
}

// AppendAsync queues entries for writing and returns a channel receiving the
// result of their fsync. Entries queued by consecutive calls are written in
// call order, so callers assigning positions under their own lock can enqueue
// under it and wait outside.
func (ws *WALStorage) AppendAsync(entries []protocol.Entry) (<-chan error, error) {
	if len(entries) == 0 {
		ch := make(chan error, 1)
		ch <- nil
		return ch, nil
	}
	return ws.enqueue(entries, entries[len(entries)-1].Position)
}

func (ws *WALStorage) enqueue(entries []protocol.Entry, commit int64) (chan error, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return nil, ErrClosed
	}
	if ws.broken.Load() {
		return nil, ErrBroken
	}
	first := entries[0].Position
	if first <= ws.lastQueued {
		return nil, fmt.Errorf("%w: position %d does not continue log at %d", ErrNotContiguous, first, ws.lastQueued)
	}
	ws.lastQueued = entries[len(entries)-1].Position

	req := &persistRequest{
		op:      opAppend,
		data:    appendData{entries: entries, commit: commit},
		errChan: make(chan error, 1),
	}
	ws.opChan <- req
	return req.errChan, nil
}

// Compact drops entries below bound from the log file and the index.
// It is called once a snapshot covering them is persisted.
func (ws *WALStorage) Compact(bound int64) error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return ErrClosed
	}
	req := &persistRequest{
		op:      opCompact,
		data:    bound,
		errChan: make(chan error, 1),
	}
	ws.opChan <- req
	ws.mu.Unlock()
	return <-req.errChan
}

func (ws *WALStorage) Scan(from int64, fn func(e protocol.Entry) bool) error {
	return ws.index.Scan(from, fn)
}

func (ws *WALStorage) LastPosition() int64 {
	return ws.index.LastPosition()
}

func (ws *WALStorage) FirstPosition() int64 {
	return ws.index.FirstPosition()
}

func (ws *WALStorage) CommitPosition() int64 {
	return ws.index.CommitPosition()
}

// stopTimer safely stops a timer and drains its channel if the stop fails.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// persister is the background worker that batches and writes to disk.
func (ws *WALStorage) persister() {
	defer ws.wg.Done()
	batch := make([]*persistRequest, 0, ws.appendCfg.BatchSize)
	timer := time.NewTimer(ws.appendCfg.Timeout)
	stopTimer(timer)

	for {
		select {
		case req := <-ws.opChan:
			if req.op == opAppend {
				batch = append(batch, req)
				if len(batch) == 1 {
					timer.Reset(ws.appendCfg.Timeout)
				}
				if len(batch) >= ws.appendCfg.BatchSize {
					ws.flush(batch)
					batch = batch[:0]
					stopTimer(timer)
				}
			} else {
				// For non-append ops, flush any pending batch first.
				if len(batch) > 0 {
					ws.flush(batch)
					batch = batch[:0]
					stopTimer(timer)
				}
				ws.handleSyncOp(req)
			}
		case <-timer.C:
			if len(batch) > 0 {
				ws.flush(batch)
				batch = batch[:0]
			}
		case <-ws.shutdownChan:
			ws.drain(batch)
			return
		}
	}
}

// drain flushes the pending batch and whatever is still queued.
func (ws *WALStorage) drain(batch []*persistRequest) {
	for {
		select {
		case req := <-ws.opChan:
			if req.op == opAppend {
				batch = append(batch, req)
				continue
			}
			req.errChan <- ErrClosed
		default:
			if len(batch) > 0 {
				ws.flush(batch)
			}
			return
		}
	}
}

// handleSyncOp handles non-batchable operations.
func (ws *WALStorage) handleSyncOp(req *persistRequest) {
	var err error
	switch req.op {
	case opCompact:
		err = ws.compact(req.data.(int64))
	default:
		err = fmt.Errorf("unknown op type: %v", req.op)
	}
	req.errChan <- err
}

// flush writes a batch of append requests to disk and fsyncs.
func (ws *WALStorage) flush(batch []*persistRequest) {
	var (
		totalErr error
		buf      bytes.Buffer
		commit   = ws.metadata.CommitPosition
	)
	for _, req := range batch {
		data := req.data.(appendData)
		for _, entry := range data.entries {
			buf.Write(encodeEntry(entry))
		}
		commit = max(commit, data.commit)
	}

	if _, err := ws.walFile.Write(buf.Bytes()); err != nil {
		totalErr = fmt.Errorf("failed to write to WAL file: %w", err)
	}
	if totalErr == nil {
		if err := ws.walFile.Sync(); err != nil {
			totalErr = fmt.Errorf("failed to sync WAL file: %w", err)
		}
	}
	if totalErr == nil && commit > ws.metadata.CommitPosition {
		totalErr = ws.setCommitPosition(commit)
	}

	if totalErr != nil {
		// The file state is unknown after a failed write or fsync.
		ws.broken.Store(true)
	} else {
		ws.index.mu.Lock()
		for _, req := range batch {
			ws.index.insert(req.data.(appendData).entries)
		}
		ws.index.setCommit(commit)
		ws.index.mu.Unlock()
	}

	for _, req := range batch {
		req.errChan <- totalErr
	}
}

func (ws *WALStorage) setCommitPosition(pos int64) error {
	newMeta := ws.metadata
	newMeta.CommitPosition = pos
	metaBytes, err := json.Marshal(newMeta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := syncFile(ws.metadataPath, metaBytes, 0644); err != nil {
		return fmt.Errorf("failed to sync metadata file: %w", err)
	}
	ws.metadata = newMeta
	return nil
}

// compact rewrites the WAL keeping only entries at or above bound.
func (ws *WALStorage) compact(bound int64) error {
	removed := ws.index.Compact(bound)
	if removed == 0 {
		return nil
	}

	walBuf := new(bytes.Buffer)
	_ = ws.index.Scan(0, func(e protocol.Entry) bool {
		walBuf.Write(encodeEntry(e))
		return true
	})

	if err := ws.walFile.Close(); err != nil {
		ws.logger.Warn("failed to close WAL file before compaction", logger.ErrAttr(err))
	}
	if err := syncFile(ws.walPath, walBuf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to sync WAL file for compaction: %w", err)
	}

	newWalFile, err := os.OpenFile(ws.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen WAL file after compaction: %w", err)
	}
	ws.walFile = newWalFile
	ws.logger.Debug("compacted log", slog.Int64("bound", bound), slog.Int("removed", removed))
	return nil
}

// load reads metadata from disk and replays the WAL into the index.
// A torn record at the tail is dropped.
func (ws *WALStorage) load() error {
	metaData, err := os.ReadFile(ws.metadataPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read metadata file: %w", err)
	}
	if len(metaData) > 0 {
		if err := json.Unmarshal(metaData, &ws.metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	f, err := os.Open(ws.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open WAL file for reading: %w", err)
	}
	defer f.Close()

	var (
		reader = bufio.NewReader(f)
		valid  int64
	)
	for {
		entry, err := decodeEntry(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("failed to decode WAL entry: %w", err)
		}
		valid += int64(entryHeaderSize + entry.Size())
		ws.index.mu.Lock()
		ws.index.insert([]protocol.Entry{entry})
		ws.index.mu.Unlock()
	}

	if info, err := f.Stat(); err == nil && info.Size() > valid {
		ws.logger.Warn("truncating torn WAL tail", slog.Int64("size", info.Size()), slog.Int64("valid", valid))
		if err := os.Truncate(ws.walPath, valid); err != nil {
			return fmt.Errorf("failed to truncate WAL file: %w", err)
		}
	}

	ws.index.mu.Lock()
	ws.index.setCommit(min(ws.metadata.CommitPosition, ws.index.lastLocked()))
	ws.index.mu.Unlock()
	return nil
}

func encodeEntry(entry protocol.Entry) []byte {
	payload := protocol.AppendEntry(nil, entry)
	header := make([]byte, entryHeaderSize, entryHeaderSize+len(payload))
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.Checksum(payload, crc32cTable))
	return append(header, payload...)
}

func decodeEntry(r io.Reader) (protocol.Entry, error) {
	header := make([]byte, entryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return protocol.Entry{}, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	crc := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return protocol.Entry{}, io.ErrUnexpectedEOF
	}

	if actualCRC := crc32.Checksum(payload, crc32cTable); actualCRC != crc {
		return protocol.Entry{}, fmt.Errorf("crc mismatch: expected %d, got %d", crc, actualCRC)
	}

	var (
		entry protocol.Entry
		found bool
	)
	err := protocol.ScanBlock(payload, func(e protocol.Entry) bool {
		entry, found = e, true
		return false
	})
	if err != nil {
		return protocol.Entry{}, fmt.Errorf("failed to decode log entry: %w", err)
	}
	if !found {
		return protocol.Entry{}, errors.New("empty log record")
	}
	return entry, nil
}

func syncFile(path string, data []byte, perm os.FileMode) error {
	tempPath := path + tmpSuffix
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	f.Close()
	return os.Rename(tempPath, path)
}
