package rm

import (
	"context"
	"strings"

	goredis "github.com/go-redis/redis/v8"
)

// RedisStreamBroker is the default MessageBroker: half-messages are
// XADD'd to a per-service stream under a "-pending" suffix; Confirm
// re-publishes to the live stream and XDELs the pending entry, Discard
// simply XDELs it. msgID is "<stream>:<entryID>".
type RedisStreamBroker struct {
	rdb *goredis.Client
}

// NewRedisStreamBroker builds a broker over rdb.
func NewRedisStreamBroker(rdb *goredis.Client) *RedisStreamBroker {
	return &RedisStreamBroker{rdb: rdb}
}

func splitMsgID(msgID string) (stream, entryID string, ok bool) {
	i := strings.LastIndexByte(msgID, ':')
	if i < 0 {
		return "", "", false
	}
	return msgID[:i], msgID[i+1:], true
}

func pendingStream(stream string) string { return stream + "-pending" }

// Confirm moves the half-message from the pending stream to the live
// stream so downstream consumers observe it.
func (b *RedisStreamBroker) Confirm(ctx context.Context, msgID string) error {
	stream, entryID, ok := splitMsgID(msgID)
	if !ok {
		return ErrHalfMessageExpired
	}
	res, err := b.rdb.XRange(ctx, pendingStream(stream), entryID, entryID).Result()
	if err != nil {
		return err
	}
	if len(res) == 0 {
		return ErrHalfMessageExpired
	}
	if err := b.rdb.XAdd(ctx, &goredis.XAddArgs{Stream: stream, Values: res[0].Values}).Err(); err != nil {
		return err
	}
	return b.rdb.XDel(ctx, pendingStream(stream), entryID).Err()
}

// Discard drops the half-message without publishing it.
func (b *RedisStreamBroker) Discard(ctx context.Context, msgID string) error {
	stream, entryID, ok := splitMsgID(msgID)
	if !ok {
		return nil
	}
	return b.rdb.XDel(ctx, pendingStream(stream), entryID).Err()
}

var _ MessageBroker = (*RedisStreamBroker)(nil)
