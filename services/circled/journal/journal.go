package journal

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"lukechampine.com/blake3"

	"circlefi/core/types"
	"circlefi/storage"
)

var keyPrefix = []byte("journal/")

var (
	// ErrSequenceGap is returned when an appended event does not follow the head.
	ErrSequenceGap = errors.New("journal: sequence gap")
	// ErrCorrupt is returned when a stored record breaks the hash chain.
	ErrCorrupt = errors.New("journal: hash chain broken")
)

type record struct {
	Seq    uint64       `json:"seq"`
	Prev   string       `json:"prev"`
	Digest string       `json:"digest"`
	Event  *types.Event `json:"event"`
}

// Journal is an append-only, hash chained log of committed engine events.
// Every record commits to its predecessor with
// digest = blake3(prev digest || event JSON).
type Journal struct {
	mu   sync.Mutex
	db   storage.Database
	seq  uint64
	head [32]byte
}

// Open verifies the stored chain and positions the journal at its head.
func Open(db storage.Database) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	j := &Journal{db: db}
	err := j.walk(func(rec record, digest [32]byte) error {
		j.seq = rec.Seq
		j.head = digest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Append persists evt. Its "seq" attribute must be exactly one past the head.
func (j *Journal) Append(evt *types.Event) error {
	seq, ok := evt.Sequence()
	if !ok {
		return fmt.Errorf("journal: event %s has no sequence", evt.Type)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if seq != j.seq+1 {
		return fmt.Errorf("%w: head %d, got %d", ErrSequenceGap, j.seq, seq)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("journal: encode event: %w", err)
	}
	digest := chain(j.head, payload)
	rec := record{
		Seq:    seq,
		Prev:   hex.EncodeToString(j.head[:]),
		Digest: hex.EncodeToString(digest[:]),
		Event:  evt,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: encode record: %w", err)
	}
	if err := j.db.Put(recordKey(seq), raw); err != nil {
		return fmt.Errorf("journal: write record %d: %w", seq, err)
	}
	j.seq = seq
	j.head = digest
	return nil
}

// Head returns the last sequence number and its digest.
func (j *Journal) Head() (uint64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq, hex.EncodeToString(j.head[:])
}

// Events returns the verified events with sequence >= from, in order.
func (j *Journal) Events(from uint64) ([]*types.Event, error) {
	var out []*types.Event
	err := j.walk(func(rec record, _ [32]byte) error {
		if rec.Seq >= from {
			out = append(out, rec.Event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (j *Journal) walk(fn func(rec record, digest [32]byte) error) error {
	var (
		prev     [32]byte
		expected uint64 = 1
	)
	return j.db.Iterate(keyPrefix, func(key, value []byte) error {
		var rec record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("journal: decode %x: %w", key, err)
		}
		if rec.Seq != expected || rec.Event == nil {
			return fmt.Errorf("%w: expected record %d, found %d", ErrCorrupt, expected, rec.Seq)
		}
		if seq, ok := rec.Event.Sequence(); !ok || seq != rec.Seq {
			return fmt.Errorf("%w: record %d carries event sequence %d", ErrCorrupt, rec.Seq, seq)
		}
		if rec.Prev != hex.EncodeToString(prev[:]) {
			return fmt.Errorf("%w: record %d does not link to its predecessor", ErrCorrupt, rec.Seq)
		}
		payload, err := json.Marshal(rec.Event)
		if err != nil {
			return err
		}
		digest := chain(prev, payload)
		if rec.Digest != hex.EncodeToString(digest[:]) {
			return fmt.Errorf("%w: record %d digest mismatch", ErrCorrupt, rec.Seq)
		}
		if err := fn(rec, digest); err != nil {
			return err
		}
		prev = digest
		expected++
		return nil
	})
}

func chain(prev [32]byte, payload []byte) [32]byte {
	buf := make([]byte, 0, len(prev)+len(payload))
	buf = append(buf, prev[:]...)
	buf = append(buf, payload...)
	return blake3.Sum256(buf)
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}
