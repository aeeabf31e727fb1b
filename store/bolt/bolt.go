// Package bolt implements store.Store over an embedded bbolt database,
// for single-process/tooling deployments that don't want an external
// metadata store. Like the mongo backend, there is no teacher file to
// copy from (only the SQL backend was retrieved); the bucket layout
// mirrors the three logical tables of the relational schema.
package bolt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/txutil"
)

var (
	bucketGlobals  = []byte("global_table")
	bucketBranches = []byte("branch_table")
	bucketLocks    = []byte("global_lock")
)

// Store implements store.Store on top of a *bolt.DB.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database file at path and
// ensures its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketGlobals, bucketBranches, bucketLocks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error { return s.db.Close() }

// Ping always succeeds once the handle is open; bbolt is in-process.
func (s *Store) Ping() error { return nil }

func branchKey(branchID int64) []byte {
	return []byte(strconv.FormatInt(branchID, 10))
}

// FindGlobal finds a global transaction by xid.
func (s *Store) FindGlobal(xid string) (*store.GlobalTransaction, error) {
	var g *store.GlobalTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketGlobals).Get([]byte(xid))
		if raw == nil {
			return store.ErrNotFound
		}
		g = &store.GlobalTransaction{}
		return json.Unmarshal(raw, g)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ScanGlobals paginates over every global transaction sorted by xid
// descending; position is the last-seen xid.
func (s *Store) ScanGlobals(position *string, limit int) ([]store.GlobalTransaction, error) {
	all := []store.GlobalTransaction{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGlobals).ForEach(func(k, v []byte) error {
			g := store.GlobalTransaction{}
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			all = append(all, g)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].XID > all[j].XID })
	start := 0
	if position != nil && *position != "" {
		for i, g := range all {
			if g.XID == *position {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]
	if end >= len(all) {
		*position = ""
	} else if len(page) > 0 {
		*position = page[len(page)-1].XID
	}
	return page, nil
}

// SaveNewGlobal inserts a global transaction and its initial branches,
// rejecting a duplicate xid.
func (s *Store) SaveNewGlobal(g *store.GlobalTransaction, branches []store.BranchTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		gb := tx.Bucket(bucketGlobals)
		if gb.Get([]byte(g.XID)) != nil {
			return store.ErrUniqueConflict
		}
		raw, err := json.Marshal(g)
		if err != nil {
			return err
		}
		if err := gb.Put([]byte(g.XID), raw); err != nil {
			return err
		}
		bb := tx.Bucket(bucketBranches)
		for i := range branches {
			braw, err := json.Marshal(&branches[i])
			if err != nil {
				return err
			}
			if err := bb.Put(branchKey(branches[i].BranchID), braw); err != nil {
				return err
			}
		}
		return nil
	})
}

// ChangeGlobalStatus performs an optimistic status transition.
func (s *Store) ChangeGlobalStatus(xid string, oldStatus, newStatus string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGlobals)
		raw := b.Get([]byte(xid))
		if raw == nil {
			return store.ErrNotFound
		}
		g := &store.GlobalTransaction{}
		if err := json.Unmarshal(raw, g); err != nil {
			return err
		}
		if g.Status != oldStatus {
			return store.ErrNotFound
		}
		g.Status = newStatus
		g.UpdateTime = time.Now()
		out, err := json.Marshal(g)
		if err != nil {
			return err
		}
		return b.Put([]byte(xid), out)
	})
}

// TouchCronTime advances the next scan time.
func (s *Store) TouchCronTime(xid string, nextIntervalSec int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGlobals)
		raw := b.Get([]byte(xid))
		if raw == nil {
			return store.ErrNotFound
		}
		g := &store.GlobalTransaction{}
		if err := json.Unmarshal(raw, g); err != nil {
			return err
		}
		g.NextCronTime = *txutil.GetNextTime(nextIntervalSec)
		g.NextCronInterval = nextIntervalSec
		g.UpdateTime = time.Now()
		out, err := json.Marshal(g)
		if err != nil {
			return err
		}
		return b.Put([]byte(xid), out)
	})
}

// LockOneGlobalTrans scans for one due, eligible-status transaction and
// claims it with a fresh owner token and lease. bbolt has no secondary
// index, so this is a linear scan — acceptable for the embedded/
// single-process deployments this backend targets.
func (s *Store) LockOneGlobalTrans(dueWithin time.Duration, eligibleStatuses []string, leaseSec int64) (*store.GlobalTransaction, error) {
	eligible := map[string]bool{}
	for _, st := range eligibleStatuses {
		eligible[st] = true
	}
	var claimed *store.GlobalTransaction
	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGlobals)
		return b.ForEach(func(k, v []byte) error {
			if claimed != nil {
				return nil
			}
			g := &store.GlobalTransaction{}
			if err := json.Unmarshal(v, g); err != nil {
				return err
			}
			if !eligible[g.Status] || !g.NextCronTime.Before(now.Add(dueWithin)) {
				return nil
			}
			g.Owner = fmt.Sprintf("%d", time.Now().UnixNano())
			g.NextCronTime = *txutil.GetNextTime(leaseSec)
			out, err := json.Marshal(g)
			if err != nil {
				return err
			}
			if err := b.Put(k, out); err != nil {
				return err
			}
			claimed = g
			return nil
		})
	})
	return claimed, err
}

// FindBranches returns every branch of a global transaction.
func (s *Store) FindBranches(xid string) ([]store.BranchTransaction, error) {
	out := []store.BranchTransaction{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBranches).ForEach(func(k, v []byte) error {
			br := store.BranchTransaction{}
			if err := json.Unmarshal(v, &br); err != nil {
				return err
			}
			if br.XID == xid {
				out = append(out, br)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BranchID < out[j].BranchID })
	return out, err
}

// FindBranch returns one branch by (xid, branchId).
func (s *Store) FindBranch(xid string, branchID int64) (*store.BranchTransaction, error) {
	var out *store.BranchTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBranches).Get(branchKey(branchID))
		if raw == nil {
			return store.ErrNotFound
		}
		b := &store.BranchTransaction{}
		if err := json.Unmarshal(raw, b); err != nil {
			return err
		}
		if b.XID != xid {
			return store.ErrNotFound
		}
		out = b
		return nil
	})
	return out, err
}

// InsertBranches inserts new branch records, skipping ones that exist.
func (s *Store) InsertBranches(branches []store.BranchTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranches)
		for i := range branches {
			k := branchKey(branches[i].BranchID)
			if b.Get(k) != nil {
				continue
			}
			raw, err := json.Marshal(&branches[i])
			if err != nil {
				return err
			}
			if err := b.Put(k, raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateBranches upserts branch records wholesale (bbolt has no partial
// field update; this stores the full record, which is what every
// caller already has in hand after a status transition).
func (s *Store) UpdateBranches(branches []store.BranchTransaction, updateFields []string) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranches)
		for i := range branches {
			raw, err := json.Marshal(&branches[i])
			if err != nil {
				return err
			}
			if err := b.Put(branchKey(branches[i].BranchID), raw); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// AcquireLock implements the lock contract directly against the locks
// bucket.
func (s *Store) AcquireLock(rowKeys []string, xid string, branchID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		for _, rk := range rowKeys {
			raw := b.Get([]byte(rk))
			if raw != nil {
				lk := &store.GlobalLock{}
				if err := json.Unmarshal(raw, lk); err != nil {
					return err
				}
				if lk.XID == xid {
					continue
				}
				return store.ErrLockConflict
			}
			lk := store.GlobalLock{RowKey: rk, XID: xid, BranchID: branchID, AcquiredAtMs: time.Now().UnixNano() / int64(time.Millisecond)}
			out, err := json.Marshal(lk)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(rk), out); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseLocksForBranch deletes every lock row owned by (xid, branchId).
func (s *Store) ReleaseLocksForBranch(xid string, branchID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		toDelete := [][]byte{}
		err := b.ForEach(func(k, v []byte) error {
			lk := &store.GlobalLock{}
			if err := json.Unmarshal(v, lk); err != nil {
				return err
			}
			if lk.XID == xid && lk.BranchID == branchID {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListLocksByXID lists every lock row held by a global transaction.
func (s *Store) ListLocksByXID(xid string) ([]store.GlobalLock, error) {
	out := []store.GlobalLock{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).ForEach(func(k, v []byte) error {
			lk := store.GlobalLock{}
			if err := json.Unmarshal(v, &lk); err != nil {
				return err
			}
			if lk.XID == xid {
				out = append(out, lk)
			}
			return nil
		})
	})
	return out, err
}
