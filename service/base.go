package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/SKlv1ain/KU-Hangout-sub000/message"
)

// RoomConn 房间 socket 的最小接口。
// 具体实现在包根（RoomSocket），通过工厂注入避免循环依赖。
type RoomConn interface {
	Send(text string) bool
	IsConnected() bool
	Close()
}

// Service 基础服务：REST 客户端配置与当前会话，各具体 service 内嵌复用。
// 这一侧是消费端：Token 由外部签发后传入，本模块不做鉴权。
type Service struct {
	HTTP    *http.Client
	BaseURL string // REST 根地址
	Token   string // 已签发的会话 token
	Debug   bool

	// Session 当前登录用户（显式注入，不读全局状态）
	Session message.Session

	// RDB 可选：目录快照的 redis 缓存
	RDB *redis.Client

	// SnapshotDB 可选：目录快照的设备本地库
	SnapshotDB *gorm.DB

	// DialRoom 建立房间 socket 的工厂函数（由 engine 注入，避免循环依赖）
	DialRoom func(planID uint64) RoomConn
}

func (s *Service) httpClient() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// doJSON 发起一次 REST 请求。非 2xx 一律报错，绝不吞掉：
// 这些请求背后都是用户正在等待的操作。
func (s *Service) doJSON(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}

	url := strings.TrimRight(s.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(raw, 200))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
