// Package flood は IP とアクション単位のフラッドコントロール（60秒のローリングウィンドウ）を提供します。
package flood

import (
	"context"
	"math"
	"time"
)

// Window はフラッドコントロールの集計期間です。
const Window = 60 * time.Second

// アクション名
const (
	ActionLogin  = "login"
	ActionSearch = "search"
)

// Result は試行を記録できたかどうかと、拒否時の待ち時間を表します。
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds は待ち時間を秒単位（切り上げ）で返します。
func (r Result) RetryAfterSeconds() int {
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// Limiter は (ip, action) ごとの試行回数を制限します。
// limit が 0 以下の場合は常に許可します。
// 件数の確認と記録は1回の操作で行い、同時実行でも上限を超えません。
type Limiter interface {
	Allow(ctx context.Context, ip, action string, limit int) (Result, error)
}

// RetryAfter は最も古い記録がウィンドウから外れるまでの時間を返します（最低1秒）。
func RetryAfter(oldest, now time.Time) time.Duration {
	d := oldest.Add(Window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	if d > Window {
		d = Window
	}
	return d
}
