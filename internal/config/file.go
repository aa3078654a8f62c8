package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig は CONFIG_FILE で指定する YAML のスキーマです。
// 指定のない項目は既定値のまま残ります。
type fileConfig struct {
	Server struct {
		Port               string `yaml:"port"`
		GinMode            string `yaml:"gin_mode"`
		CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`
	Forum struct {
		Title   string `yaml:"title"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"forum"`
	Session struct {
		CookieName        string `yaml:"cookie_name"`
		CookieDomain      string `yaml:"cookie_domain"`
		CookieExpire      string `yaml:"cookie_expire"`
		SessionExpire     string `yaml:"session_expire"`
		HTTPS             *bool  `yaml:"https"`
		ValidateSessionIP *bool  `yaml:"validate_session_ip"`
		RememberMe        *bool  `yaml:"remember_me"`
	} `yaml:"session"`
	Auth struct {
		HashingMethod     string `yaml:"hashing_method"`
		BcryptCost        int    `yaml:"bcrypt_cost"`
		RootAdmin         int64  `yaml:"root_admin"`
		LoginsPerMinute   *int   `yaml:"logins_per_minute"`
		SearchesPerMinute *int   `yaml:"searches_per_minute"`
	} `yaml:"auth"`
	Registration struct {
		Open                  *bool    `yaml:"open"`
		SendEmail             *bool    `yaml:"send_email"`
		RequireEmailApproval  *bool    `yaml:"require_email_approval"`
		RequireManualApproval *bool    `yaml:"require_manual_approval"`
		MinPasswordLength     int      `yaml:"min_password_length"`
		ReservedNames         []string `yaml:"reserved_names"`
		NonASCIICharacters    *bool    `yaml:"non_ascii_characters"`
	} `yaml:"registration"`
	Storage struct {
		Driver       string `yaml:"driver"`
		DatabaseURL  string `yaml:"database_url"`
		FloodBackend string `yaml:"flood_backend"`
		RedisURL     string `yaml:"redis_url"`
	} `yaml:"storage"`
	Mail struct {
		QueueRedisURL string `yaml:"queue_redis_url"`
		SMTPAddr      string `yaml:"smtp_addr"`
		SMTPUser      string `yaml:"smtp_user"`
		From          string `yaml:"from"`
	} `yaml:"mail"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// applyFile は YAML ファイルの値を設定に反映します。
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.Port, f.Server.Port)
	setString(&c.GinMode, f.Server.GinMode)
	setString(&c.CORSAllowedOrigins, f.Server.CORSAllowedOrigins)

	setString(&c.ForumTitle, f.Forum.Title)
	setString(&c.BaseURL, f.Forum.BaseURL)

	setString(&c.CookieName, f.Session.CookieName)
	setString(&c.CookieDomain, f.Session.CookieDomain)
	if err := setDuration(&c.CookieExpire, f.Session.CookieExpire); err != nil {
		return fmt.Errorf("session.cookie_expire: %w", err)
	}
	if err := setDuration(&c.SessionExpire, f.Session.SessionExpire); err != nil {
		return fmt.Errorf("session.session_expire: %w", err)
	}
	setBool(&c.HTTPS, f.Session.HTTPS)
	setBool(&c.ValidateSessionIP, f.Session.ValidateSessionIP)
	setBool(&c.RememberMe, f.Session.RememberMe)

	setString(&c.HashingMethod, strings.ToLower(f.Auth.HashingMethod))
	if f.Auth.BcryptCost > 0 {
		c.BcryptCost = f.Auth.BcryptCost
	}
	if f.Auth.RootAdmin > 0 {
		c.RootAdmin = f.Auth.RootAdmin
	}
	if f.Auth.LoginsPerMinute != nil {
		c.LoginsPerMinute = *f.Auth.LoginsPerMinute
	}
	if f.Auth.SearchesPerMinute != nil {
		c.SearchesPerMinute = *f.Auth.SearchesPerMinute
	}

	setBool(&c.RegistrationOpen, f.Registration.Open)
	setBool(&c.SendEmail, f.Registration.SendEmail)
	setBool(&c.RequireEmailApproval, f.Registration.RequireEmailApproval)
	setBool(&c.RequireManualApproval, f.Registration.RequireManualApproval)
	if f.Registration.MinPasswordLength > 0 {
		c.MinPasswordLength = f.Registration.MinPasswordLength
	}
	if len(f.Registration.ReservedNames) > 0 {
		names := make([]string, 0, len(f.Registration.ReservedNames))
		for _, n := range f.Registration.ReservedNames {
			names = append(names, strings.ToLower(strings.TrimSpace(n)))
		}
		c.ReservedNames = names
	}
	setBool(&c.NonASCIICharacters, f.Registration.NonASCIICharacters)

	setString(&c.StoreDriver, strings.ToLower(f.Storage.Driver))
	setString(&c.DatabaseURL, f.Storage.DatabaseURL)
	setString(&c.FloodBackend, strings.ToLower(f.Storage.FloodBackend))
	setString(&c.RedisURL, f.Storage.RedisURL)

	setString(&c.MailQueueRedisURL, f.Mail.QueueRedisURL)
	setString(&c.SMTPAddr, f.Mail.SMTPAddr)
	setString(&c.SMTPUser, f.Mail.SMTPUser)
	setString(&c.MailFrom, f.Mail.From)

	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
