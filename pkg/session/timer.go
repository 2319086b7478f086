package session

import (
	"sync"
	"time"
)

// Таймеры RFC 3261 / RFC 4028, используемые сессией.
const (
	TimerT1 = 500 * time.Millisecond
	// TimerB таймаут INVITE транзакции
	TimerB = 64 * TimerT1
	// TimerH ожидание ACK
	TimerH = 64 * TimerT1

	// SessionTimerMin минимальный Session-Expires
	SessionTimerMin = 90 * time.Second
)

// SessionTimer таймер обновления сессии (RFC 4028). Если за интервал не
// пришло ни одного обновления, канал Expired закрывается.
type SessionTimer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	stopped  bool

	expired chan struct{}
	once    sync.Once
}

// NewSessionTimer запускает таймер. Интервалы меньше SessionTimerMin
// поднимаются до минимума.
func NewSessionTimer(interval time.Duration) *SessionTimer {
	if interval < SessionTimerMin {
		interval = SessionTimerMin
	}
	t := &SessionTimer{
		interval: interval,
		expired:  make(chan struct{}),
	}
	t.timer = time.AfterFunc(interval, t.fire)
	return t
}

func (t *SessionTimer) fire() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.once.Do(func() { close(t.expired) })
}

// Refresh откладывает истечение на полный интервал.
func (t *SessionTimer) Refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timer.Reset(t.interval)
}

func (t *SessionTimer) Interval() time.Duration {
	return t.interval
}

// Expired закрывается при истечении таймера.
func (t *SessionTimer) Expired() <-chan struct{} {
	return t.expired
}

func (t *SessionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.timer.Stop()
}
