package service

import "sync"

// subscribers 状态变更的脉冲通知。订阅者拿到一个容量 1 的通道：
// 有变更就置一个脉冲，连续变更合并，永不阻塞写方。
// 多个 UI 面（导航铃铛、dock、消息页）都只读订阅，写方只有 service 自己。
type subscribers struct {
	mu     sync.Mutex
	subs   map[uint64]chan struct{}
	nextID uint64
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[uint64]chan struct{})}
}

func (p *subscribers) subscribe() (<-chan struct{}, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{}, 1)
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

func (p *subscribers) notify() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
