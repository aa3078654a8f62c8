// Package config は環境変数と設定ファイルから設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ハッシュ方式
const (
	HashingBcrypt = "bcrypt"
	HashingMD5    = "md5"
)

// ストア／フラッドコントロールのバックエンド
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQL      = "sql"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// フォーラム設定
	ForumTitle string // フォーラム名（メール本文で使用）
	BaseURL    string // リンク生成用のベースURL（末尾スラッシュ付き）

	// セッション／クッキー設定
	SessionSecret     string        // セッションクッキーの署名鍵・暗号化鍵の導出元
	CookieName        string        // ログイン保持クッキー名（セッションクッキーは "_session" を付加）
	CookieDomain      string        // クッキーのドメイン（空ならホストのみ）
	CookieExpire      time.Duration // ログイン保持クッキーの有効期間
	SessionExpire     time.Duration // セッション／ログイン記録の無操作タイムアウト
	HTTPS             bool          // HTTPS 配信時は Secure 属性を付与する
	ValidateSessionIP bool          // セッションを発行時のIPに固定する
	RememberMe        bool          // 「ログインしたままにする」の既定値

	// 認証設定
	HashingMethod     string // パスワードのハッシュ方式 (bcrypt, md5)
	BcryptCost        int    // bcrypt のコスト
	RootAdmin         int64  // ルート管理者のメンバーID
	LoginsPerMinute   int    // 1分あたりのログイン試行上限（0で無効）
	SearchesPerMinute int    // 1分あたりの検索上限（0で無効）

	// 登録設定
	RegistrationOpen      bool     // 新規登録を受け付けるか
	SendEmail             bool     // メール送信を行うか
	RequireEmailApproval  bool     // メールアドレス確認を必須にするか
	RequireManualApproval bool     // 管理者による承認を必須にするか
	MinPasswordLength     int      // パスワードの最小文字数
	ReservedNames         []string // 登録できない名前（小文字）
	NonASCIICharacters    bool     // 名前に印字不可能文字を許可するか

	// エラー表示
	VerboseFatalErrors bool // 致命的エラーの詳細をレスポンスに含めるか

	// ストレージ設定
	StoreDriver  string // メンバー／ログイン記録の保存先 (postgres, memory)
	DatabaseURL  string // PostgreSQL 接続URL
	FloodBackend string // フラッドコントロールの保存先 (redis, sql, memory)
	RedisURL     string // フラッドコントロール用Redis接続URL

	// メール設定
	MailQueueRedisURL string // Asynq用Redis接続URL
	SMTPAddr          string // SMTPサーバー (host:port)。空ならログ出力のみ
	SMTPUser          string // SMTP認証ユーザー
	SMTPPassword      string // SMTP認証パスワード
	MailFrom          string // 送信元アドレス

	// ログ設定
	LogLevel  string // ログレベル (debug, info, warn, error)
	LogFormat string // ログ形式 (text, json)
}

// Default は既定値で埋めた設定を返します。
func Default() *Config {
	return &Config{
		Port:               "8080",
		GinMode:            "debug",
		CORSAllowedOrigins: "http://localhost:5173",

		ForumTitle: "esoBB",
		BaseURL:    "http://localhost:8080/",

		CookieName:    "esobb",
		CookieExpire:  30 * 24 * time.Hour,
		SessionExpire: time.Hour,
		RememberMe:    true,

		HashingMethod:     HashingBcrypt,
		BcryptCost:        10,
		RootAdmin:         1,
		LoginsPerMinute:   10,
		SearchesPerMinute: 10,

		RegistrationOpen:     true,
		RequireEmailApproval: true,
		MinPasswordLength:    6,
		ReservedNames: []string{
			"guest", "member", "members", "moderator", "moderators",
			"administrator", "administrators", "suspended", "everyone", "myself",
		},

		StoreDriver:  DriverMemory,
		FloodBackend: DriverMemory,
		RedisURL:     "redis://127.0.0.1:6379/0",

		MailQueueRedisURL: "redis://127.0.0.1:6379/1",
		MailFrom:          "noreply@localhost",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込み、
// CONFIG_FILE が指定されていれば YAML の値を既定値に上書きしてから環境変数を適用します。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() {
	// サーバー設定
	c.Port = getEnv("PORT", c.Port)
	c.GinMode = getEnv("GIN_MODE", c.GinMode)
	c.CORSAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)

	// フォーラム設定
	c.ForumTitle = getEnv("FORUM_TITLE", c.ForumTitle)
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)

	// セッション／クッキー設定
	c.SessionSecret = getEnv("SESSION_SECRET", c.SessionSecret)
	c.CookieName = getEnv("COOKIE_NAME", c.CookieName)
	c.CookieDomain = getEnv("COOKIE_DOMAIN", c.CookieDomain)
	c.CookieExpire = getEnvAsDuration("COOKIE_EXPIRE", c.CookieExpire)
	c.SessionExpire = getEnvAsDuration("SESSION_EXPIRE", c.SessionExpire)
	c.HTTPS = getEnvAsBool("HTTPS", c.HTTPS)
	c.ValidateSessionIP = getEnvAsBool("VALIDATE_SESSION_IP", c.ValidateSessionIP)
	c.RememberMe = getEnvAsBool("REMEMBER_ME", c.RememberMe)

	// 認証設定
	c.HashingMethod = strings.ToLower(getEnv("HASHING_METHOD", c.HashingMethod))
	c.BcryptCost = getEnvAsInt("BCRYPT_COST", c.BcryptCost)
	c.RootAdmin = getEnvAsInt64("ROOT_ADMIN", c.RootAdmin)
	c.LoginsPerMinute = getEnvAsInt("LOGINS_PER_MINUTE", c.LoginsPerMinute)
	c.SearchesPerMinute = getEnvAsInt("SEARCHES_PER_MINUTE", c.SearchesPerMinute)

	// 登録設定
	c.RegistrationOpen = getEnvAsBool("REGISTRATION_OPEN", c.RegistrationOpen)
	c.SendEmail = getEnvAsBool("SEND_EMAIL", c.SendEmail)
	c.RequireEmailApproval = getEnvAsBool("REQUIRE_EMAIL_APPROVAL", c.RequireEmailApproval)
	c.RequireManualApproval = getEnvAsBool("REQUIRE_MANUAL_APPROVAL", c.RequireManualApproval)
	c.MinPasswordLength = getEnvAsInt("MIN_PASSWORD_LENGTH", c.MinPasswordLength)
	c.ReservedNames = getEnvAsList("RESERVED_NAMES", c.ReservedNames)
	c.NonASCIICharacters = getEnvAsBool("NON_ASCII_CHARACTERS", c.NonASCIICharacters)

	c.VerboseFatalErrors = getEnvAsBool("VERBOSE_FATAL_ERRORS", c.VerboseFatalErrors)

	// ストレージ設定
	c.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", c.StoreDriver))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.FloodBackend = strings.ToLower(getEnv("FLOOD_BACKEND", c.FloodBackend))
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)

	// メール設定
	c.MailQueueRedisURL = getEnv("MAIL_QUEUE_REDIS_URL", c.MailQueueRedisURL)
	c.SMTPAddr = getEnv("SMTP_ADDR", c.SMTPAddr)
	c.SMTPUser = getEnv("SMTP_USER", c.SMTPUser)
	c.SMTPPassword = getEnv("SMTP_PASSWORD", c.SMTPPassword)
	c.MailFrom = getEnv("MAIL_FROM", c.MailFrom)

	// ログ設定
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.HashingMethod {
	case HashingBcrypt, HashingMD5:
	default:
		return fmt.Errorf("HASHING_METHOD must be bcrypt or md5, got %q", c.HashingMethod)
	}
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	switch c.FloodBackend {
	case DriverRedis, DriverSQL, DriverMemory:
	default:
		return fmt.Errorf("FLOOD_BACKEND must be redis, sql or memory, got %q", c.FloodBackend)
	}
	if c.FloodBackend == DriverSQL && c.StoreDriver != DriverPostgres {
		return fmt.Errorf("FLOOD_BACKEND=sql requires STORE_DRIVER=postgres")
	}
	if c.StoreDriver == DriverPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
	}
	if c.CookieExpire <= 0 || c.SessionExpire <= 0 {
		return fmt.Errorf("COOKIE_EXPIRE and SESSION_EXPIRE must be positive")
	}

	// ローカル開発ではシークレット等は任意
	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.StoreDriver == DriverMemory {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in release mode")
		}
		if c.SendEmail && c.MailQueueRedisURL == "" {
			return fmt.Errorf("MAIL_QUEUE_REDIS_URL is required when SEND_EMAIL is enabled")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を期間として取得します。単位なしの数値は秒として扱います。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を小文字のリストとして取得します。
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
