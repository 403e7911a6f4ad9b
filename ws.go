package hangout_sdk

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SKlv1ain/KU-Hangout-sub000/message"
)

const (
	// Time 写入超时时间
	writeWait = 10 * time.Second

	// Time pong超时时间
	pongWait = 60 * time.Second

	// Send 对应的ping 必须小于pong
	pingPeriod = (pongWait * 9) / 10

	// Maximum 对等端允许消息大小。
	// 服务端建连后首发整段 chat_history 快照，条数没有协议上限，
	// 上限对齐 REST 侧的响应体上限（1MB）。
	maxMessageSize = 1 << 20

	// 重连退避：500ms 起步翻倍，封顶 30s，最多 8 次
	reconnectBase = 500 * time.Millisecond
	reconnectMax  = 30 * time.Second
	maxReconnects = 8

	// 相同错误 5s 内只上报一次，避免闪断刷屏
	errDedupeWindow = 5 * time.Second
)

// SocketState 连接状态机：Idle -> Connecting -> Open -> {Closing -> Idle | Reconnecting -> Connecting}
type SocketState int32

const (
	StateIdle SocketState = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
)

func (s SocketState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// RoomSocket 一条逻辑流（单个聊天室或全局通知流）的唯一活跃连接。
// 意外断开自动退避重连；重连期间的错误只打日志，退避耗尽才上报订阅者。
// gen 为连接代数：每次重新拨号 +1，旧连接残留的回调按代数丢弃，
// 保证切换房间后不会再有旧连接改状态。
type RoomSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	state    SocketState
	gen      uint64
	attempts int
	closed   bool
	retry    *time.Timer

	// 写串行化（Send 与 ping 共用一个写端）
	writeMu sync.Mutex

	lastErrMsg string
	lastErrAt  time.Time

	events *eventHub
}

// NewRoomSocket 创建但不拨号。header 一般带 Authorization。
func NewRoomSocket(url string, header http.Header) *RoomSocket {
	return &RoomSocket{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
		events: newEventHub(),
	}
}

// Subscribe 订阅事件流，返回只读通道和退订函数。Close 后通道关闭。
func (s *RoomSocket) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Connect 异步拨号。重复调用在已连接/连接中时为 no-op。
func (s *RoomSocket) Connect() {
	s.mu.Lock()
	if s.closed || s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.dial(gen)
}

func (s *RoomSocket) dial(gen uint64) {
	conn, _, err := s.dialer.Dial(s.url, s.header)

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.handleDisconnect(gen, err)
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.attempts = 0
	done := make(chan struct{})
	s.mu.Unlock()

	s.events.emit(Event{Kind: EventOpen})

	go s.readPump(conn, gen, done)
	go s.pingLoop(conn, done)
}

// readPump 收帧转发给订阅者；读错误走统一断开处理
func (s *RoomSocket) readPump(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("readPump error: %v", err)
			}
			s.handleDisconnect(gen, err)
			return
		}
		s.mu.Lock()
		stale := s.closed || gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}
		s.events.emit(Event{Kind: EventMessage, Raw: raw})
	}
}

func (s *RoomSocket) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleDisconnect 统一断开处理：旧代数直接丢弃；主动关闭回 Idle；
// 意外断开安排退避重连，耗尽后才对外报错。
func (s *RoomSocket) handleDisconnect(gen uint64, cause error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.state == StateClosing {
		s.state = StateIdle
		s.mu.Unlock()
		s.events.emit(Event{Kind: EventClosed})
		return
	}

	s.attempts++
	if s.attempts > maxReconnects {
		s.state = StateIdle
		s.mu.Unlock()
		s.events.emit(Event{Kind: EventClosed})
		s.emitError(cause)
		return
	}

	delay := backoffDelay(s.attempts)
	s.state = StateReconnecting
	s.gen++
	next := s.gen
	s.retry = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.closed || next != s.gen {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.mu.Unlock()
		s.dial(next)
	})
	s.mu.Unlock()

	// 重连期间不对外报错，只打日志
	log.Printf("ws disconnected (%v), retry %d/%d in %v", cause, s.attempts, maxReconnects, delay)
	s.events.emit(Event{Kind: EventClosed})
}

func backoffDelay(attempt int) time.Duration {
	d := reconnectBase << (attempt - 1)
	if d > reconnectMax || d <= 0 {
		return reconnectMax
	}
	return d
}

// emitError 上报连接级错误，相同错误在窗口期内去重
func (s *RoomSocket) emitError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	now := time.Now()
	if err.Error() == s.lastErrMsg && now.Sub(s.lastErrAt) < errDedupeWindow {
		s.mu.Unlock()
		return
	}
	s.lastErrMsg = err.Error()
	s.lastErrAt = now
	s.mu.Unlock()
	s.events.emit(Event{Kind: EventError, Err: err})
}

// Send 发送一条文本消息。未连接立即返回 false，不排队不抛错，
// 调用方据此置灰输入框/提示检查网络。
func (s *RoomSocket) Send(text string) bool {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen && conn != nil
	gen := s.gen
	s.mu.Unlock()
	if !open {
		return false
	}

	req := message.SendReq{
		Type:     message.WsTypeMessage,
		Message:  text,
		PacketID: uuid.NewString(),
	}
	b, err := json.Marshal(req)
	if err != nil {
		return false
	}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, b)
	s.writeMu.Unlock()
	if err != nil {
		s.handleDisconnect(gen, err)
		return false
	}
	return true
}

// State 当前连接状态
func (s *RoomSocket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected 是否可发送
func (s *RoomSocket) IsConnected() bool {
	return s.State() == StateOpen
}

// Close 确定性关闭：停重连、关底层连接、关闭全部订阅通道。幂等。
func (s *RoomSocket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++ // 残留回调全部失效
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateIdle
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	s.events.closeAll()
}
