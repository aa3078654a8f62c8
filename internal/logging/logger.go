// Package logging はアプリケーション全体で使用する構造化ロガーを提供します。
package logging

import "context"

// Logger はコンテキスト付きの構造化ロガーです。
//
// 可変長引数はキーと値のペアとして解釈されます。
//
//	log.Info(ctx, "login succeeded", "member_id", id)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With は指定した属性を常に付与する子ロガーを返します。
	With(args ...any) Logger
}

type requestIDKey struct{}

// WithRequestID はリクエストIDをコンテキストに格納します。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID はコンテキストからリクエストIDを取り出します。
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
