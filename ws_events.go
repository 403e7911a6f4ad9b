package hangout_sdk

import "sync"

// EventKind socket 事件类型
type EventKind int

const (
	EventOpen    EventKind = iota + 1 // 连接建立
	EventMessage                      // 收到一帧（Raw 为原始 JSON）
	EventError                        // 连接级错误（已退避耗尽或非重连期）
	EventClosed                       // 连接断开（含重连间隙）
)

// Event RoomSocket 对外的统一事件。
// 用显式订阅流替代层层透传的 onXxx 回调，退订保证及时生效。
type Event struct {
	Kind EventKind
	Raw  []byte
	Err  error
}

// eventHub 订阅者注册表。emit 永不阻塞：订阅者消费不过来就丢弃，
// 消费方要的是最新状态而不是完整回放。
type eventHub struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[uint64]chan Event)}
}

func (h *eventHub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, 32)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *eventHub) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
