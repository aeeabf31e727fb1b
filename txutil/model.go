package txutil

import "time"

// ModelBase holds the row-bookkeeping fields (id, create/update time) of
// a gorm-backed model; the store/sql row types declare these columns
// themselves rather than embedding it.
type ModelBase struct {
	ID         uint64    `gorm:"column:id;primaryKey"`
	CreateTime time.Time `gorm:"column:create_time"`
	UpdateTime time.Time `gorm:"column:update_time"`
}

// GetNextTime returns a pointer to now + the given number of seconds,
// used for scheduling the next retry/scan attempt.
func GetNextTime(seconds int64) *time.Time {
	next := time.Now().Add(time.Duration(seconds) * time.Second)
	return &next
}

// NowMs returns the current time in epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
