// Package mongo implements store.Store over MongoDB, giving the
// coordinator an alternate metadata backend the way the upstream
// project this teacher is derived from ships a Mongo store alongside
// its SQL one. There is no teacher file for this backend (only the SQL
// one was retrieved into the pack); the interface shape and optimistic-
// update idioms are carried over from store/sql.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/txutil"
)

// Store implements store.Store on top of three Mongo collections.
type Store struct {
	globals  *mongo.Collection
	branches *mongo.Collection
	locks    *mongo.Collection
}

// New wraps an already-connected *mongo.Database.
func New(db *mongo.Database) *Store {
	return &Store{
		globals:  db.Collection("global_table"),
		branches: db.Collection("branch_table"),
		locks:    db.Collection("global_lock"),
	}
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// Ping checks connectivity.
func (s *Store) Ping() error {
	c, cancel := ctx()
	defer cancel()
	return s.globals.Database().Client().Ping(c, nil)
}

// FindGlobal finds a global transaction by xid.
func (s *Store) FindGlobal(xid string) (*store.GlobalTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	g := &store.GlobalTransaction{}
	err := s.globals.FindOne(c, bson.M{"xid": xid}).Decode(g)
	if err == mongo.ErrNoDocuments {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ScanGlobals paginates by begin time, descending, using an opaque
// RFC3339-nano cursor string as position.
func (s *Store) ScanGlobals(position *string, limit int) ([]store.GlobalTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	filter := bson.M{}
	if position != nil && *position != "" {
		t, err := time.Parse(time.RFC3339Nano, *position)
		if err != nil {
			return nil, fmt.Errorf("invalid position: %w", err)
		}
		filter["beginTimeMs"] = bson.M{"$lt": t.UnixNano() / int64(time.Millisecond)}
	}
	opts := options.Find().SetSort(bson.M{"beginTimeMs": -1}).SetLimit(int64(limit))
	cur, err := s.globals.Find(c, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(c)
	out := []store.GlobalTransaction{}
	if err := cur.All(c, &out); err != nil {
		return nil, err
	}
	if len(out) < limit {
		*position = ""
	} else {
		last := out[len(out)-1]
		*position = time.Unix(0, last.BeginTimeMs*int64(time.Millisecond)).Format(time.RFC3339Nano)
	}
	return out, nil
}

// SaveNewGlobal inserts a global transaction and its initial branches,
// rejecting a duplicate xid with store.ErrUniqueConflict.
func (s *Store) SaveNewGlobal(g *store.GlobalTransaction, branches []store.BranchTransaction) error {
	c, cancel := ctx()
	defer cancel()
	_, err := s.globals.InsertOne(c, g)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrUniqueConflict
	}
	if err != nil {
		return err
	}
	if len(branches) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(branches))
	for i := range branches {
		docs = append(docs, branches[i])
	}
	_, err = s.branches.InsertMany(c, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return nil
}

// ChangeGlobalStatus performs an optimistic status transition.
func (s *Store) ChangeGlobalStatus(xid string, oldStatus, newStatus string) error {
	c, cancel := ctx()
	defer cancel()
	res, err := s.globals.UpdateOne(c,
		bson.M{"xid": xid, "status": oldStatus},
		bson.M{"$set": bson.M{"status": newStatus, "updateTime": time.Now()}})
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TouchCronTime advances the next scan time.
func (s *Store) TouchCronTime(xid string, nextIntervalSec int64) error {
	c, cancel := ctx()
	defer cancel()
	_, err := s.globals.UpdateOne(c, bson.M{"xid": xid}, bson.M{"$set": bson.M{
		"nextCronTime":     *txutil.GetNextTime(nextIntervalSec),
		"nextCronInterval": nextIntervalSec,
		"updateTime":       time.Now(),
	}})
	return err
}

// LockOneGlobalTrans claims one due global transaction via an
// owner-token findOneAndUpdate, the Mongo analogue of the SQL backend's
// compare-and-swap claim.
func (s *Store) LockOneGlobalTrans(dueWithin time.Duration, eligibleStatuses []string, leaseSec int64) (*store.GlobalTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	owner := fmt.Sprintf("%d", time.Now().UnixNano())
	filter := bson.M{
		"nextCronTime": bson.M{"$lt": time.Now().Add(dueWithin)},
		"status":       bson.M{"$in": eligibleStatuses},
	}
	update := bson.M{"$set": bson.M{"owner": owner, "nextCronTime": *txutil.GetNextTime(leaseSec)}}
	res := s.globals.FindOneAndUpdate(c, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After))
	g := &store.GlobalTransaction{}
	if err := res.Decode(g); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// FindBranches returns every branch of a global transaction.
func (s *Store) FindBranches(xid string) ([]store.BranchTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	cur, err := s.branches.Find(c, bson.M{"xid": xid}, options.Find().SetSort(bson.M{"beginTimeMs": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(c)
	out := []store.BranchTransaction{}
	err = cur.All(c, &out)
	return out, err
}

// FindBranch returns one branch by (xid, branchId).
func (s *Store) FindBranch(xid string, branchID int64) (*store.BranchTransaction, error) {
	c, cancel := ctx()
	defer cancel()
	b := &store.BranchTransaction{}
	err := s.branches.FindOne(c, bson.M{"xid": xid, "branchId": branchID}).Decode(b)
	if err == mongo.ErrNoDocuments {
		return nil, store.ErrNotFound
	}
	return b, err
}

// InsertBranches inserts new branch documents, ignoring duplicates.
func (s *Store) InsertBranches(branches []store.BranchTransaction) error {
	c, cancel := ctx()
	defer cancel()
	docs := make([]interface{}, 0, len(branches))
	for i := range branches {
		docs = append(docs, branches[i])
	}
	_, err := s.branches.InsertMany(c, docs, options.InsertMany().SetOrdered(false))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// UpdateBranches upserts branch documents by branchId.
func (s *Store) UpdateBranches(branches []store.BranchTransaction, updateFields []string) (int, error) {
	c, cancel := ctx()
	defer cancel()
	count := 0
	for i := range branches {
		b := branches[i]
		set := bson.M{}
		for _, f := range updateFields {
			switch f {
			case "status":
				set["status"] = b.Status
			case "end_time_ms", "endTimeMs":
				set["endTimeMs"] = b.EndTimeMs
			case "update_time", "updateTime":
				set["updateTime"] = time.Now()
			}
		}
		res, err := s.branches.UpdateOne(c, bson.M{"branchId": b.BranchID}, bson.M{"$set": set}, options.Update().SetUpsert(true))
		if err != nil {
			return count, err
		}
		if res.ModifiedCount > 0 || res.UpsertedCount > 0 {
			count++
		}
	}
	return count, nil
}

// AcquireLock implements the lock contract per rowKey: it looks up the
// existing lock document and inserts one when absent, the unique rowKey
// index turning a concurrent insert into store.ErrLockConflict.
func (s *Store) AcquireLock(rowKeys []string, xid string, branchID int64) error {
	c, cancel := ctx()
	defer cancel()
	for _, rk := range rowKeys {
		existing := &store.GlobalLock{}
		err := s.locks.FindOne(c, bson.M{"rowKey": rk}).Decode(existing)
		if err == nil {
			if existing.XID == xid {
				continue
			}
			return store.ErrLockConflict
		}
		if err != mongo.ErrNoDocuments {
			return err
		}
		_, err = s.locks.InsertOne(c, store.GlobalLock{
			RowKey: rk, XID: xid, BranchID: branchID, AcquiredAtMs: time.Now().UnixNano() / int64(time.Millisecond),
		})
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrLockConflict
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReleaseLocksForBranch deletes every lock document owned by (xid, branchId).
func (s *Store) ReleaseLocksForBranch(xid string, branchID int64) error {
	c, cancel := ctx()
	defer cancel()
	_, err := s.locks.DeleteMany(c, bson.M{"xid": xid, "branchId": branchID})
	return err
}

// ListLocksByXID lists every lock document held by a global transaction.
func (s *Store) ListLocksByXID(xid string) ([]store.GlobalLock, error) {
	c, cancel := ctx()
	defer cancel()
	cur, err := s.locks.Find(c, bson.M{"xid": xid})
	if err != nil {
		return nil, err
	}
	defer cur.Close(c)
	out := []store.GlobalLock{}
	err = cur.All(c, &out)
	return out, err
}

// EnsureIndexes creates the unique/lookup indexes this backend relies
// on; call once at startup.
func EnsureIndexes(db *mongo.Database) error {
	c, cancel := ctx()
	defer cancel()
	_, err := db.Collection("global_table").Indexes().CreateOne(c, mongo.IndexModel{
		Keys: bson.M{"xid": 1}, Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = db.Collection("branch_table").Indexes().CreateOne(c, mongo.IndexModel{
		Keys: bson.M{"branchId": 1}, Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = db.Collection("global_lock").Indexes().CreateOne(c, mongo.IndexModel{
		Keys: bson.M{"rowKey": 1}, Options: options.Index().SetUnique(true),
	})
	return err
}
