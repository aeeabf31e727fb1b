// Package redis implements store.Store over Redis, using go-redis for
// record storage and github.com/xiaoxuxiansheng/redis_lock for
// GlobalLock acquisition instead of the SQL backend's row-level
// SELECT ... FOR UPDATE.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/txutil"
)

const (
	globalHashPrefix  = "galaxytx:global:"
	branchHashPrefix  = "galaxytx:branch:"
	lockKeyPrefix     = "galaxytx:lock:"
	globalIndexZSet   = "galaxytx:global:index"
	branchIndexPrefix = "galaxytx:branch:index:"
)

// Store implements store.Store on top of Redis.
type Store struct {
	rdb        *goredis.Client
	lockClient *redis_lock.Client
}

// New wraps an already-configured *redis.Client plus a redis_lock
// client pointed at the same instance.
func New(rdb *goredis.Client, lockClient *redis_lock.Client) *Store {
	return &Store{rdb: rdb, lockClient: lockClient}
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// Ping checks connectivity.
func (s *Store) Ping() error {
	c, cancel := ctx()
	defer cancel()
	return s.rdb.Ping(c).Err()
}

// FindGlobal finds a global transaction by xid.
func (s *Store) FindGlobal(xid string) (*store.GlobalTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	raw, err := s.rdb.Get(c, globalHashPrefix+xid).Bytes()
	if err == goredis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g := &store.GlobalTransaction{}
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ScanGlobals paginates over the global-transaction index, a sorted set
// scored by begin time.
func (s *Store) ScanGlobals(position *string, limit int) ([]store.GlobalTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	max := "+inf"
	if position != nil && *position != "" {
		max = "(" + *position
	}
	xids, err := s.rdb.ZRevRangeByScore(c, globalIndexZSet, &goredis.ZRangeBy{
		Min: "-inf", Max: max, Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]store.GlobalTransaction, 0, len(xids))
	for _, xid := range xids {
		g, err := s.FindGlobal(xid)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	if len(out) > 0 && len(out) >= limit {
		*position = fmt.Sprintf("%d", out[len(out)-1].BeginTimeMs)
	} else {
		*position = ""
	}
	return out, nil
}

// SaveNewGlobal inserts a global transaction and its initial branches,
// rejecting a duplicate xid via SETNX.
func (s *Store) SaveNewGlobal(g *store.GlobalTransaction, branches []store.BranchTransaction) error {
	c, cancel := ctx()
	defer cancel()
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(c, globalHashPrefix+g.XID, raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrUniqueConflict
	}
	if err := s.rdb.ZAdd(c, globalIndexZSet, &goredis.Z{Score: float64(g.BeginTimeMs), Member: g.XID}).Err(); err != nil {
		return err
	}
	for i := range branches {
		braw, err := json.Marshal(&branches[i])
		if err != nil {
			return err
		}
		if err := s.rdb.Set(c, branchHashPrefix+fmt.Sprint(branches[i].BranchID), braw, 0).Err(); err != nil {
			return err
		}
		if err := s.rdb.SAdd(c, branchIndexPrefix+g.XID, branches[i].BranchID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// ChangeGlobalStatus performs an optimistic status transition using a
// WATCH/MULTI transaction.
func (s *Store) ChangeGlobalStatus(xid string, oldStatus, newStatus string) error {
	c, cancel := ctx()
	defer cancel()
	key := globalHashPrefix + xid
	return s.rdb.Watch(c, func(tx *goredis.Tx) error {
		raw, err := tx.Get(c, key).Bytes()
		if err == goredis.Nil {
			return store.ErrNotFound
		}
		if err != nil {
			return err
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
		_, err = tx.TxPipelined(c, func(p goredis.Pipeliner) error {
			p.Set(c, key, out, 0)
			return nil
		})
		return err
	}, key)
}

// TouchCronTime advances the next scan time.
func (s *Store) TouchCronTime(xid string, nextIntervalSec int64) error {
	c, cancel := ctx()
	defer cancel()
	key := globalHashPrefix + xid
	raw, err := s.rdb.Get(c, key).Bytes()
	if err == goredis.Nil {
		return store.ErrNotFound
	}
	if err != nil {
		return err
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
	return s.rdb.Set(c, key, out, 0).Err()
}

// LockOneGlobalTrans scans the index for one due, eligible transaction
// and claims it. Redis has no partial-update-with-rowcount primitive,
// so the claim is a WATCH/MULTI compare-and-swap on the owner field.
func (s *Store) LockOneGlobalTrans(dueWithin time.Duration, eligibleStatuses []string, leaseSec int64) (*store.GlobalTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	eligible := map[string]bool{}
	for _, st := range eligibleStatuses {
		eligible[st] = true
	}
	xids, err := s.rdb.ZRangeByScore(c, globalIndexZSet, &goredis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", time.Now().Add(dueWithin).UnixMilli()),
	}).Result()
	if err != nil {
		return nil, err
	}
	owner := fmt.Sprintf("%d", time.Now().UnixNano())
	for _, xid := range xids {
		key := globalHashPrefix + xid
		var claimed *store.GlobalTransaction
		err := s.rdb.Watch(c, func(tx *goredis.Tx) error {
			raw, err := tx.Get(c, key).Bytes()
			if err != nil {
				return err
			}
			g := &store.GlobalTransaction{}
			if err := json.Unmarshal(raw, g); err != nil {
				return err
			}
			if !eligible[g.Status] || !g.NextCronTime.Before(time.Now().Add(dueWithin)) {
				return nil
			}
			g.Owner = owner
			g.NextCronTime = *txutil.GetNextTime(leaseSec)
			out, err := json.Marshal(g)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(c, func(p goredis.Pipeliner) error {
				p.Set(c, key, out, 0)
				return nil
			})
			if err == nil {
				claimed = g
			}
			return err
		}, key)
		if err != nil {
			continue
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	return nil, nil
}

// FindBranches returns every branch of a global transaction.
func (s *Store) FindBranches(xid string) ([]store.BranchTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	ids, err := s.rdb.SMembers(c, branchIndexPrefix+xid).Result()
	if err != nil {
		return nil, err
	}
	out := []store.BranchTransaction{}
	for _, id := range ids {
		raw, err := s.rdb.Get(c, branchHashPrefix+id).Bytes()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		b := store.BranchTransaction{}
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// FindBranch returns one branch by (xid, branchId).
func (s *Store) FindBranch(xid string, branchID int64) (*store.BranchTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	raw, err := s.rdb.Get(c, branchHashPrefix+fmt.Sprint(branchID)).Bytes()
	if err == goredis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b := &store.BranchTransaction{}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, err
	}
	if b.XID != xid {
		return nil, store.ErrNotFound
	}
	return b, nil
}

// InsertBranches inserts new branch records.
func (s *Store) InsertBranches(branches []store.BranchTransaction) error {
	c, cancel := ctx()
	defer cancel()
	for i := range branches {
		raw, err := json.Marshal(&branches[i])
		if err != nil {
			return err
		}
		if err := s.rdb.Set(c, branchHashPrefix+fmt.Sprint(branches[i].BranchID), raw, 0).Err(); err != nil {
			return err
		}
		if err := s.rdb.SAdd(c, branchIndexPrefix+branches[i].XID, branches[i].BranchID).Err(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateBranches overwrites branch records wholesale.
func (s *Store) UpdateBranches(branches []store.BranchTransaction, updateFields []string) (int, error) {
	if err := s.InsertBranches(branches); err != nil {
		return 0, err
	}
	return len(branches), nil
}

// AcquireLock uses redis_lock's distributed-lock primitive per rowKey:
// each lock is held for the lifetime of the branch's phase (a released
// lock simply removes the key), and re-acquiring one's own lock is a
// no-op check against the stored owner.
func (s *Store) AcquireLock(rowKeys []string, xid string, branchID int64) error {
	c, cancel := ctx()
	defer cancel()
	for _, rk := range rowKeys {
		key := lockKeyPrefix + rk
		existing, err := s.rdb.Get(c, key).Result()
		if err == nil {
			if existing == xid {
				continue
			}
			return store.ErrLockConflict
		}
		if err != goredis.Nil {
			return err
		}
		lock := redis_lock.NewRedisLock(key+":mutex", s.lockClient)
		if lockErr := lock.Lock(c); lockErr != nil {
			return store.ErrLockConflict
		}
		set, setErr := s.rdb.SetNX(c, key, xid, 0).Result()
		_ = lock.Unlock(c)
		if setErr != nil {
			return setErr
		}
		if !set {
			return store.ErrLockConflict
		}
	}
	return nil
}

// ReleaseLocksForBranch removes every lock key owned by (xid, branchId).
func (s *Store) ReleaseLocksForBranch(xid string, branchID int64) error {
	c, cancel := ctx()
	defer cancel()
	locks, err := s.ListLocksByXID(xid)
	if err != nil {
		return err
	}
	for _, lk := range locks {
		if lk.BranchID != branchID {
			continue
		}
		if err := s.rdb.Del(c, lockKeyPrefix+lk.RowKey).Err(); err != nil {
			return err
		}
	}
	return nil
}

// ListLocksByXID scans for lock keys owned by a global transaction.
// Redis has no secondary index over values, so this relies on the
// caller tracking rowKeys via the branch's LockKey field in practice;
// here we perform a bounded SCAN as a fallback path for operator
// tooling.
func (s *Store) ListLocksByXID(xid string) ([]store.GlobalLock, error) {
	c, cancel := ctx()
	defer cancel()
	out := []store.GlobalLock{}
	iter := s.rdb.Scan(c, 0, lockKeyPrefix+"*", 200).Iterator()
	for iter.Next(c) {
		key := iter.Val()
		owner, err := s.rdb.Get(c, key).Result()
		if err != nil {
			continue
		}
		if owner == xid {
			out = append(out, store.GlobalLock{RowKey: key[len(lockKeyPrefix):], XID: xid})
		}
	}
	return out, iter.Err()
}
