package tc

import (
	"context"
	"time"

	"github.com/go-basic/uuid"

	"github.com/galaxytx/galaxytx/logger"
	"github.com/galaxytx/galaxytx/store"
)

// Scanner periodically claims and re-drives due global transactions.
// Claiming uses an owner token so that a second coordinator instance
// backing the same store never double-drives the same global
// transaction.
type Scanner struct {
	coordinator *Coordinator
	store       store.Store
	interval    time.Duration
	leaseSec    int64
	owner       string
	stop        chan struct{}
}

// NewScanner builds a scanner polling every interval with a lease of
// leaseSec seconds per claimed global transaction.
func NewScanner(c *Coordinator, s store.Store, interval time.Duration, leaseSec int64) *Scanner {
	return &Scanner{
		coordinator: c,
		store:       s,
		interval:    interval,
		leaseSec:    leaseSec,
		owner:       uuid.New(),
		stop:        make(chan struct{}),
	}
}

// Run blocks, polling until Stop is called.
func (s *Scanner) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Stop ends the scan loop.
func (s *Scanner) Stop() {
	close(s.stop)
}

func (s *Scanner) tick() {
	for {
		g, err := s.store.LockOneGlobalTrans(0, eligibleForScan, s.leaseSec)
		if err != nil {
			if err != store.ErrNotFound {
				logger.Errorf("scanner: claim failed: %v", err)
			}
			return
		}
		if g == nil {
			return
		}
		s.redrive(g)
	}
}

func (s *Scanner) redrive(g *store.GlobalTransaction) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.leaseSec)*time.Second)
	defer cancel()

	switch g.Status {
	case GlobalStatusBegin:
		if time.Now().After(g.CreateTime.Add(time.Duration(g.TimeoutMs) * time.Millisecond)) {
			_ = s.store.ChangeGlobalStatus(g.XID, g.Status, GlobalStatusTimeoutRollingBack)
			if _, err := s.coordinator.Rollback(ctx, g.XID); err != nil {
				logger.Warnf("scanner: timeout rollback xid=%s: %v", g.XID, err)
			}
			return
		}
		_ = s.store.TouchCronTime(g.XID, s.interval.Milliseconds()/1000)
	case GlobalStatusCommitting, GlobalStatusCommitRetrying:
		if _, err := s.coordinator.Commit(ctx, g.XID); err != nil {
			logger.Warnf("scanner: re-drive commit xid=%s: %v", g.XID, err)
		}
	case GlobalStatusRollingBack, GlobalStatusRollbackRetrying, GlobalStatusTimeoutRollingBack:
		if _, err := s.coordinator.Rollback(ctx, g.XID); err != nil {
			logger.Warnf("scanner: re-drive rollback xid=%s: %v", g.XID, err)
		}
	}
}
