package rtp

import (
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoFreePorts в диапазоне нет свободного порта.
var ErrNoFreePorts = errors.New("no free rtp ports")

// PortRange диапазон портов RTP, границы включаются.
type PortRange struct {
	Min int
	Max int
}

// Validate RTP порт четный, следующий за ним нечетный оставлен под RTCP,
// поэтому в диапазоне должна помещаться хотя бы одна пара.
func (r PortRange) Validate() error {
	if r.Min < 1024 || r.Max > 65535 {
		return errors.Errorf("rtp port range %d-%d out of 1024-65535", r.Min, r.Max)
	}
	if r.Min+r.Min%2+1 > r.Max {
		return errors.Errorf("rtp port range %d-%d too small", r.Min, r.Max)
	}
	return nil
}

// PortPool выдает четные порты из диапазона под UDP транспорты. Порт
// возвращается в пул при закрытии транспорта.
type PortPool struct {
	ports PortRange

	mu   sync.Mutex
	used map[int]bool
	next int
}

func NewPortPool(ports PortRange) (*PortPool, error) {
	if err := ports.Validate(); err != nil {
		return nil, err
	}
	first := ports.Min + ports.Min%2
	return &PortPool{ports: ports, used: make(map[int]bool), next: first}, nil
}

// Listen открывает транспорт на первом свободном порту пула. Порты,
// занятые другими процессами, пропускаются.
func (p *PortPool) Listen(host string, cfg TransportConfig) (*UDPTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	first := p.ports.Min + p.ports.Min%2
	pairs := (p.ports.Max - first + 1) / 2
	port := p.next
	for i := 0; i < pairs; i++ {
		candidate := port
		port += 2
		if port+1 > p.ports.Max {
			port = first
		}
		if p.used[candidate] {
			continue
		}

		cfg.LocalAddr = net.JoinHostPort(host, strconv.Itoa(candidate))
		t, err := NewUDPTransport(cfg)
		if err != nil {
			continue
		}
		p.used[candidate] = true
		p.next = port
		t.release = func() { p.release(candidate) }
		return t, nil
	}
	return nil, errors.Wrapf(ErrNoFreePorts, "range %d-%d", p.ports.Min, p.ports.Max)
}

func (p *PortPool) release(port int) {
	p.mu.Lock()
	delete(p.used, port)
	p.mu.Unlock()
}

// InUse число выданных портов.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
