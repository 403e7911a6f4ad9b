package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// Config 独立运行（example、小工具）时的环境配置。
// 嵌入式使用走包根的 Option，不经过这里。
type Config struct {
	BaseURL      string // REST 根地址
	WsBaseURL    string // WebSocket 根地址
	Token        string // 会话 token
	UserID       uint64
	Username     string
	RedisAddr    string // 可选：目录快照缓存
	SnapshotPath string // 可选：目录快照 sqlite 文件
	Debug        bool
	Environment  string
}

// Load reads configuration from environment variables or .env file.
func Load() *Config {
	env := os.Getenv("ENV")
	if strings.ToLower(env) != "production" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found; continuing with environment variables")
		}
	}

	return &Config{
		BaseURL:      getEnv("HANGOUT_BASE_URL", "http://127.0.0.1:8000"),
		WsBaseURL:    getEnv("HANGOUT_WS_BASE_URL", "ws://127.0.0.1:8000/ws"),
		Token:        getEnv("HANGOUT_TOKEN", ""),
		UserID:       getEnvAsUint("HANGOUT_USER_ID", 0),
		Username:     getEnv("HANGOUT_USERNAME", ""),
		RedisAddr:    getEnv("HANGOUT_REDIS_ADDR", ""),
		SnapshotPath: getEnv("HANGOUT_SNAPSHOT_PATH", "hangout_snapshot.db"),
		Debug:        getEnvAsBool("HANGOUT_DEBUG", false),
		Environment:  env,
	}
}

// OpenSnapshotDB 打开（必要时创建）目录快照的本地 sqlite 库
func OpenSnapshotDB(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
