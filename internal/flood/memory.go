package flood

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter は単一プロセス用の Limiter です（開発・テスト用）。
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string][]time.Time
	swept   time.Time
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		now:     time.Now,
		records: make(map[string][]time.Time),
	}
}

// SetClock は現在時刻の取得関数を差し替えます（テスト用）。
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *MemoryLimiter) Allow(_ context.Context, ip, action string, limit int) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := action + "|" + ip
	cutoff := now.Add(-Window)
	if now.Sub(l.swept) >= Window {
		l.sweep(cutoff)
		l.swept = now
	}

	// ウィンドウ外の記録を削除
	recent := l.records[key][:0]
	for _, t := range l.records[key] {
		if !t.Before(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= limit {
		l.records[key] = recent
		return Result{Allowed: false, RetryAfter: RetryAfter(recent[0], now)}, nil
	}

	l.records[key] = append(recent, now)
	return Result{Allowed: true}, nil
}

// sweep はウィンドウ内の記録が残っていないキーを削除します。
func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for key, times := range l.records {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(l.records, key)
		}
	}
}
