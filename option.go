package hangout_sdk

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/SKlv1ain/KU-Hangout-sub000/message"
)

type ServiceConfig struct {
	Debug bool
}

type Config struct {
	// BaseURL REST 根地址，如 https://api.ku-hangout.app
	BaseURL string

	// WsBaseURL WebSocket 根地址，如 wss://api.ku-hangout.app/ws
	WsBaseURL string

	// Token 已签发的会话 token（鉴权在外部完成，本模块只携带）
	Token string

	// Session 当前登录用户
	Session message.Session

	HTTP       *http.Client
	RDB        *redis.Client // 可选：目录快照缓存
	SnapshotDB *gorm.DB      // 可选：目录快照本地库
	Service    ServiceConfig
}

type Option func(*Config)

func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

func WithWsBaseURL(url string) Option {
	return func(c *Config) {
		c.WsBaseURL = url
	}
}

func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

func WithSession(sess message.Session) Option {
	return func(c *Config) {
		c.Session = sess
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTP = client
	}
}

func WithRDB(rdb *redis.Client) Option {
	return func(c *Config) {
		c.RDB = rdb
	}
}

func WithSnapshotDB(db *gorm.DB) Option {
	return func(c *Config) {
		c.SnapshotDB = db
	}
}

func WithServiceDebug(debug bool) Option {
	return func(c *Config) {
		c.Service.Debug = debug
	}
}
