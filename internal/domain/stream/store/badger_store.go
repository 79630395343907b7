// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps records as JSON values:
//   - sessions: key = "sess:<id>"
//   - frames:   key = "frame:<id>"
//   - index:    key = "sframe:<sessionID>:<frame number, zero padded>:<frameID>" (empty value)
const maxConflictRetries = 64

type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func sessionKey(id string) []byte { return []byte("sess:" + id) }
func frameKey(id string) []byte   { return []byte("frame:" + id) }

func frameIndexPrefix(sessionID string) []byte {
	return []byte("sframe:" + sessionID + ":")
}

func frameIndexKey(f *model.FrameRecord) []byte {
	return []byte(fmt.Sprintf("sframe:%s:%020d:%s", f.SessionID, f.FrameNumber, f.ID))
}

func (s *BadgerStore) CreateSession(ctx context.Context, sess *model.Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := sessionKey(sess.ID)
		if _, err := txn.Get(key); err == nil {
			return ports.ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, buf)
	})
}

func (s *BadgerStore) UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	var out model.Session
	err := s.update(func(txn *badger.Txn) error {
		out = model.Session{}
		key := sessionKey(id)
		if err := getJSON(txn, key, &out); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var out model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, sessionKey(id), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListSessions(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	var out []*model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("sess:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sess model.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				return err
			}
			if status == "" || sess.Status == status {
				out = append(out, &sess)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *BadgerStore) CreateFrame(ctx context.Context, f *model.FrameRecord) error {
	buf, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(f.SessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ports.ErrNotFound
			}
			return err
		}
		key := frameKey(f.ID)
		if _, err := txn.Get(key); err == nil {
			return ports.ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, buf); err != nil {
			return err
		}
		return txn.Set(frameIndexKey(f), nil)
	})
}

func (s *BadgerStore) UpdateFrame(ctx context.Context, id string, fn func(*model.FrameRecord) error) (*model.FrameRecord, error) {
	var out model.FrameRecord
	err := s.update(func(txn *badger.Txn) error {
		out = model.FrameRecord{}
		key := frameKey(id)
		if err := getJSON(txn, key, &out); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) GetFrame(ctx context.Context, id string) (*model.FrameRecord, error) {
	var out model.FrameRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, frameKey(id), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListFrames(ctx context.Context, sessionID string, limit, offset int) ([]*model.FrameRecord, int, error) {
	out := []*model.FrameRecord{}
	total := 0
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := frameIDs(txn, sessionID)
		if err != nil {
			return err
		}
		total = len(ids)
		for _, id := range page(ids, limit, offset) {
			var f model.FrameRecord
			if err := getJSON(txn, frameKey(id), &f); err != nil {
				return err
			}
			out = append(out, &f)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *BadgerStore) CountFrames(ctx context.Context, sessionID string) (model.FrameCounts, error) {
	var c model.FrameCounts
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := frameIDs(txn, sessionID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var f model.FrameRecord
			if err := getJSON(txn, frameKey(id), &f); err != nil {
				return err
			}
			c.Add(&f)
		}
		return nil
	})
	return c, err
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction touched the same keys.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// frameIDs walks the per-session index, which is ordered by frame number.
func frameIDs(txn *badger.Txn, sessionID string) ([]string, error) {
	prefix := frameIndexPrefix(sessionID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		rest := string(it.Item().Key()[len(prefix):])
		// rest = "<20 digits>:<frameID>"
		if len(rest) < 22 {
			return nil, fmt.Errorf("malformed frame index key %q", it.Item().Key())
		}
		ids = append(ids, rest[21:])
	}
	return ids, nil
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ports.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}
