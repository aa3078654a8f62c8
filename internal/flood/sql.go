package flood

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/esobb/internal/dbx"
)

// allowQuery は直近の件数確認と、上限未満の場合の記録を1文で行います。
const allowQuery = `
	WITH recent AS (
		SELECT COUNT(*) AS n, COALESCE(MIN(time), 0) AS oldest
		FROM actions
		WHERE ip = $1 AND action = $2 AND time >= $3
	), ins AS (
		INSERT INTO actions (ip, member_id, action, time)
		SELECT $1, NULL, $2, $4 FROM recent WHERE recent.n < $5
		RETURNING 1
	)
	SELECT recent.n, recent.oldest, (SELECT COUNT(*) FROM ins) FROM recent
`

const pruneQuery = `DELETE FROM actions WHERE action = $1 AND time < $2`

// SQLLimiter は actions テーブルで試行を記録する Limiter です。
type SQLLimiter struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewSQLLimiter は SQLLimiter を作成します。
func NewSQLLimiter(db dbx.DBTX) *SQLLimiter {
	return &SQLLimiter{db: db, now: time.Now}
}

// SetClock は現在時刻の取得関数を差し替えます（テスト用）。
func (l *SQLLimiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *SQLLimiter) Allow(ctx context.Context, ip, action string, limit int) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: true}, nil
	}

	now := l.now()
	since := now.Unix() - int64(Window/time.Second)

	var count, oldest, inserted int64
	err := l.db.QueryRowContext(ctx, allowQuery, ip, action, since, now.Unix(), limit).
		Scan(&count, &oldest, &inserted)
	if err != nil {
		return Result{}, fmt.Errorf("flood query: %w", err)
	}

	if inserted == 0 {
		return Result{Allowed: false, RetryAfter: RetryAfter(time.Unix(oldest, 0), now)}, nil
	}

	// 書き込み時にウィンドウ外の記録を削除する（失敗しても判定には影響しない）
	_, _ = l.db.ExecContext(ctx, pruneQuery, action, since)
	return Result{Allowed: true}, nil
}
