package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix  = "mail:record:"
	maxUpdateRetries = 10
)

// ErrRecordNotFound は送信記録が存在しない（期限切れを含む）場合に返されます。
var ErrRecordNotFound = errors.New("mail record not found")

// Recorder は送信記録の保存先です。
type Recorder interface {
	Get(ctx context.Context, id string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	MarkSending(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errInfo *ErrorInfo) error
}

// Store は送信記録を Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Get は送信記録を取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	data, err := s.rdb.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert は送信記録を保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	stamp(record, s.now(), s.ttl)

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, recordKey(record.ID), payload, s.ttl).Err()
}

// MarkSending は送信開始を記録し、試行回数を増やします。
func (s *Store) MarkSending(ctx context.Context, id string) error {
	return s.update(ctx, id, func(record *Record) {
		record.Status = StatusSending
		record.Attempts++
	})
}

// MarkSent は送信完了を記録します。
func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.update(ctx, id, func(record *Record) {
		record.Status = StatusSent
		record.Error = nil
	})
}

// MarkFailed は送信失敗を記録します。
func (s *Store) MarkFailed(ctx context.Context, id string, errInfo *ErrorInfo) error {
	return s.update(ctx, id, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// update は WATCH で楽観ロックを取りながら記録を書き換えます。
func (s *Store) update(ctx context.Context, id string, mutate func(*Record)) error {
	key := recordKey(id)
	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
			}
			if err != nil {
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			mutate(&record)
			record.UpdatedAt = s.now()
			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update mail record %s: too many concurrent updates", id)
}

// stamp は作成・更新・有効期限の時刻を埋めます。
func stamp(record *Record, now time.Time, ttl time.Duration) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(ttl)
	}
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}
