// internal/database/boltstore.go - BoltDB implementation
package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	CastersBucket = []byte("casters")
	ProbesBucket  = []byte("probes")
	StatesBucket  = []byte("states")
	MetaBucket    = []byte("meta")
)

type BoltStore struct {
	db   *bbolt.DB
	path string
	opts options
}

func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path, opts: buildOptions(opts)}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{CastersBucket, ProbesBucket, StatesBucket, MetaBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) ListCasters(ctx context.Context) ([]Caster, error) {
	var casters []Caster

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(CastersBucket)
		return b.ForEach(func(k, v []byte) error {
			var caster Caster
			if err := json.Unmarshal(v, &caster); err != nil {
				return fmt.Errorf("failed to unmarshal caster %s: %w", k, err)
			}
			casters = append(casters, caster)
			return nil
		})
	})

	return casters, err
}

func (s *BoltStore) GetCaster(ctx context.Context, name string) (*Caster, error) {
	var caster Caster

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(CastersBucket).Get([]byte(name))
		if v == nil {
			return ErrCasterNotFound
		}
		return json.Unmarshal(v, &caster)
	})

	if err != nil {
		return nil, err
	}
	return &caster, nil
}

func (s *BoltStore) CreateCaster(ctx context.Context, caster *Caster) error {
	if err := validateCaster(caster); err != nil {
		return err
	}
	if caster.ID == "" {
		caster.ID = uuid.New().String()
	}
	caster.CreatedAt = time.Now().UTC()
	caster.UpdatedAt = caster.CreatedAt

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(CastersBucket)
		if b.Get([]byte(caster.Name)) != nil {
			return fmt.Errorf("%w: %s", ErrCasterExists, caster.Name)
		}
		return putJSON(b, []byte(caster.Name), caster)
	})
}

// UpdateCaster replaces the caster stored under name. An empty password keeps
// the stored one. Renaming moves the record but leaves history under the old name.
func (s *BoltStore) UpdateCaster(ctx context.Context, name string, caster *Caster) error {
	if err := validateCaster(caster); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(CastersBucket)
		v := b.Get([]byte(name))
		if v == nil {
			return ErrCasterNotFound
		}
		var existing Caster
		if err := json.Unmarshal(v, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal caster %s: %w", name, err)
		}

		if caster.Name != name {
			if b.Get([]byte(caster.Name)) != nil {
				return fmt.Errorf("%w: %s", ErrCasterExists, caster.Name)
			}
			if err := b.Delete([]byte(name)); err != nil {
				return err
			}
		}

		caster.ID = existing.ID
		caster.CreatedAt = existing.CreatedAt
		caster.UpdatedAt = time.Now().UTC()
		if caster.Password == "" {
			caster.Password = existing.Password
		}
		return putJSON(b, []byte(caster.Name), caster)
	})
}

func (s *BoltStore) DeleteCaster(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(CastersBucket)
		if b.Get([]byte(name)) == nil {
			return ErrCasterNotFound
		}
		return b.Delete([]byte(name))
	})
}

// RecordProbe appends one probe under the caster's sub-bucket. Keys are the
// bucket sequence, big-endian, so cursor order is insertion order.
func (s *BoltStore) RecordProbe(ctx context.Context, caster string, success bool, message string, duration time.Duration) (*Probe, error) {
	probe := &Probe{
		Caster:     caster,
		Success:    success,
		Message:    truncateMessage(message),
		DurationMs: float64(duration) / float64(time.Millisecond),
		Timestamp:  s.opts.timestamp(),
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(ProbesBucket).CreateBucketIfNotExists([]byte(caster))
		if err != nil {
			return fmt.Errorf("failed to create probe bucket for %s: %w", caster, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		probe.Seq = seq
		return putJSON(b, seqKey(seq), probe)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record probe: %w", err)
	}
	return probe, nil
}

func (s *BoltStore) RecentProbes(ctx context.Context, caster string, n int) ([]Probe, error) {
	if n <= 0 {
		return nil, nil
	}
	probes := make([]Probe, 0, n)
	err := s.WalkProbes(ctx, caster, func(p Probe) bool {
		probes = append(probes, p)
		return len(probes) < n
	})
	return probes, err
}

// CountProbesSince walks back from the newest probe and stops at the first
// one older than since.
func (s *BoltStore) CountProbesSince(ctx context.Context, caster string, since time.Time) (int, int, error) {
	total, successful := 0, 0
	err := s.WalkProbes(ctx, caster, func(p Probe) bool {
		if p.Timestamp.Before(since) {
			return false
		}
		total++
		if p.Success {
			successful++
		}
		return true
	})
	return total, successful, err
}

// WalkProbes visits the caster's probes newest first. History is read one
// page per read transaction and fn runs outside any transaction, so a long
// walk never holds bbolt's mmap lock against RecordProbe commits.
func (s *BoltStore) WalkProbes(ctx context.Context, caster string, fn func(Probe) bool) error {
	var before []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, next, err := s.probePage(caster, before, walkPageSize)
		if err != nil {
			return err
		}
		for _, probe := range page {
			if !fn(probe) {
				return nil
			}
		}
		if next == nil {
			return nil
		}
		before = next
	}
}

// probePage reads up to size probes with keys below before (nil means from
// the newest). next is the key to continue from, or nil when history is
// exhausted.
func (s *BoltStore) probePage(caster string, before []byte, size int) (page []Probe, next []byte, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ProbesBucket).Bucket([]byte(caster))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var k, v []byte
		if before == nil {
			k, v = c.Last()
		} else if k, v = c.Seek(before); k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}

		var last []byte
		for ; k != nil; k, v = c.Prev() {
			if len(page) == size {
				next = last
				return nil
			}
			last = append(last[:0], k...)
			var probe Probe
			if err := json.Unmarshal(v, &probe); err != nil {
				continue
			}
			page = append(page, probe)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read probes for %s: %w", caster, err)
	}
	return page, next, nil
}

func (s *BoltStore) GetProbes(ctx context.Context, caster string, filters ProbeFilters) ([]Probe, error) {
	var probes []Probe
	err := s.WalkProbes(ctx, caster, func(p Probe) bool {
		if !filters.Since.IsZero() && p.Timestamp.Before(filters.Since) {
			return false
		}
		probes = append(probes, p)
		return filters.Limit <= 0 || len(probes) < filters.Limit
	})
	return probes, err
}

func (s *BoltStore) GetState(ctx context.Context, caster string) (*CasterState, error) {
	var state *CasterState

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(StatesBucket).Get([]byte(caster))
		if v == nil {
			return nil
		}
		state = &CasterState{}
		return json.Unmarshal(v, state)
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", caster, err)
	}
	return state, nil
}

func (s *BoltStore) SetState(ctx context.Context, state *CasterState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.opts.timestamp()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(StatesBucket), []byte(state.Caster), state)
	})
}

func (s *BoltStore) ListStates(ctx context.Context) ([]CasterState, error) {
	var states []CasterState

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(StatesBucket).ForEach(func(k, v []byte) error {
			var state CasterState
			if err := json.Unmarshal(v, &state); err != nil {
				return nil // Skip malformed entries
			}
			states = append(states, state)
			return nil
		})
	})

	sort.Slice(states, func(i, j int) bool { return states[i].Caster < states[j].Caster })
	return states, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Put(key, data)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
