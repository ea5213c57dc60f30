package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"auctionchain/core/events"
	"auctionchain/storage"
)

var (
	rootKey = []byte("state-root")

	errInvalidSnapshot = errors.New("state: invalid snapshot id")
)

type dirtyEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyEntry
	hadPrev bool
}

type snapshot struct {
	journalLen int
	logLen     int
}

// Manager layers uncommitted writes over a key-value store. Writes and emitted
// events are journaled so any nested snapshot can be reverted; Commit flushes
// the overlay in one batch and advances the state root. A Manager is not safe
// for concurrent use.
type Manager struct {
	db        storage.Database
	dirty     map[string]dirtyEntry
	journal   []journalEntry
	snapshots []snapshot
	logs      []events.Event
	root      [32]byte
}

// NewManager opens a manager over db, restoring the last committed root.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	m := &Manager{db: db, dirty: make(map[string]dirtyEntry)}
	stored, err := db.Get(rootKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load root: %w", err)
	default:
		copy(m.root[:], stored)
	}
	return m, nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if entry, ok := m.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return append([]byte(nil), entry.value...), nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) set(key []byte, entry dirtyEntry) {
	k := string(key)
	prev, hadPrev := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, hadPrev: hadPrev})
	m.dirty[k] = entry
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the store.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(kvKey(key), dirtyEntry{value: encoded})
	return nil
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.set(kvKey(key), dirtyEntry{deleted: true})
	return nil
}

// Emit buffers an event until the surrounding changes are committed. Events
// emitted after a snapshot are discarded when that snapshot is reverted.
func (m *Manager) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	m.logs = append(m.logs, evt)
}

// Snapshot marks the current position in the journal and returns its id.
func (m *Manager) Snapshot() int {
	m.snapshots = append(m.snapshots, snapshot{journalLen: len(m.journal), logLen: len(m.logs)})
	return len(m.snapshots) - 1
}

// RevertToSnapshot undoes every write and event recorded after the snapshot
// with the given id. The snapshot and any taken after it are invalidated.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.snapshots) {
		panic(errInvalidSnapshot)
	}
	snap := m.snapshots[id]
	for i := len(m.journal) - 1; i >= snap.journalLen; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:snap.journalLen]
	m.logs = m.logs[:snap.logLen]
	m.snapshots = m.snapshots[:id]
}

// Pending reports the number of uncommitted keys.
func (m *Manager) Pending() int { return len(m.dirty) }

// Root returns the last committed state root.
func (m *Manager) Root() [32]byte { return m.root }

// Commit writes every pending change in a single batch, advances the root and
// returns the events buffered since the previous commit.
func (m *Manager) Commit() ([32]byte, []events.Event, error) {
	if len(m.dirty) == 0 {
		logs := m.logs
		m.reset()
		return m.root, logs, nil
	}
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hasher := blake3.New(32, nil)
	hasher.Write(m.root[:])
	batch := storage.NewBatch()
	for _, k := range keys {
		entry := m.dirty[k]
		hasher.Write([]byte(k))
		if entry.deleted {
			hasher.Write([]byte{0})
			batch.Delete([]byte(k))
			continue
		}
		hasher.Write([]byte{1})
		hasher.Write(entry.value)
		batch.Put([]byte(k), entry.value)
	}
	var root [32]byte
	copy(root[:], hasher.Sum(nil))
	batch.Put(rootKey, root[:])

	if err := m.db.Write(batch); err != nil {
		return m.root, nil, fmt.Errorf("state: commit: %w", err)
	}
	logs := m.logs
	m.root = root
	m.reset()
	return root, logs, nil
}

// Rollback discards every uncommitted write and buffered event.
func (m *Manager) Rollback() {
	m.reset()
}

func (m *Manager) reset() {
	m.dirty = make(map[string]dirtyEntry)
	m.journal = nil
	m.snapshots = nil
	m.logs = nil
}
