package writer

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/menta2k/tag-trainset/internal/utils"
	"github.com/menta2k/tag-trainset/pkg/trainset"
)

const (
	// DefaultTxnSize bounds the number of records per transaction.
	DefaultTxnSize = 1024
	// KVFilename is the database file created in the output directory.
	KVFilename = "data.sqlite"
)

// KVWriter stores samples in an ordered key-value table inside SQLite. Keys
// are big-endian uint64 counters, so the memcmp order of the BLOB primary
// key equals numeric order.
type KVWriter struct {
	path string
	opts Options

	mu      sync.Mutex
	db      *sql.DB
	nextKey uint64
	rng     *rand.Rand
}

// NewKVWriter opens (or creates) `<dir>/data.sqlite`. Writing continues after
// the largest existing key.
func NewKVWriter(dir string, opts Options) (*KVWriter, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, KVFilename)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS samples (
		key BLOB PRIMARY KEY,
		value BLOB NOT NULL
	) WITHOUT ROWID`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create samples table: %w", err)
	}

	w := &KVWriter{path: path, opts: opts.withDefaults(), db: db}
	if err := w.loadNextKey(); err != nil {
		db.Close()
		return nil, err
	}

	seed := w.opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	w.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	return w, nil
}

func (w *KVWriter) loadNextKey() error {
	var last []byte
	err := w.db.QueryRow(`SELECT key FROM samples ORDER BY key DESC LIMIT 1`).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select last key: %w", err)
	}
	key, err := DecodeKey(last)
	if err != nil {
		return err
	}
	w.nextKey = key + 1
	return nil
}

// EncodeKey converts a counter into its big-endian byte form.
func EncodeKey(k uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, k)
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid key length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Path returns the database file.
func (w *KVWriter) Path() string {
	return w.path
}

// Write shuffles the batch and inserts it under consecutive keys in
// transactions of at most TxnSize records.
func (w *KVWriter) Write(batch []trainset.TrainDatum) error {
	values := make([][]byte, len(batch))
	for i, d := range batch {
		values[i] = EncodeRecord(RecordFromDatum(d, w.opts.Label))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return os.ErrClosed
	}
	w.rng.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })

	for start := 0; start < len(values); start += w.opts.TxnSize {
		end := start + w.opts.TxnSize
		if end > len(values) {
			end = len(values)
		}
		if err := w.insert(values[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *KVWriter) insert(values [][]byte) (retErr error) {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(`INSERT INTO samples (key, value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	key := w.nextKey
	for _, v := range values {
		if _, err := stmt.Exec(EncodeKey(key), v); err != nil {
			return fmt.Errorf("insert key %d: %w", key, err)
		}
		key++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	w.nextKey = key
	return nil
}

// Keys returns all keys in store order.
func (w *KVWriter) Keys() ([]uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil, os.ErrClosed
	}
	rows, err := w.db.Query(`SELECT key FROM samples ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("select keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []uint64
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		k, err := DecodeKey(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Get reads and decodes the record stored under key.
func (w *KVWriter) Get(key uint64) (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return Record{}, os.ErrClosed
	}
	var value []byte
	if err := w.db.QueryRow(`SELECT value FROM samples WHERE key = ?`, EncodeKey(key)).Scan(&value); err != nil {
		return Record{}, fmt.Errorf("get key %d: %w", key, err)
	}
	return DecodeRecord(value)
}

func (w *KVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}
