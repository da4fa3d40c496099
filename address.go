package peernet

import (
	"net"
	"sync"
)

// Address is a single slot out of a fixed AddressPool mapping a resolved
// UDP endpoint to a stable slot index. The slot index never changes for
// the lifetime of the Address; only the endpoint it wraps is replaced
// when the slot is reused.
type Address struct {
	slot int
	udp  *net.UDPAddr
	str  string
}

// UDPAddr returns the resolved net.UDPAddr backing this Address.
func (a *Address) UDPAddr() *net.UDPAddr { return a.udp }

// String returns the formatted "ip:port" form, used as the peer table key.
func (a *Address) String() string { return a.str }

// Slot returns this Address's stable index within its owning pool.
func (a *Address) Slot() int { return a.slot }

// AddressPool manages a fixed number of pre-allocated Address slots.
// Resolving an endpoint claims a free slot; releasing an Address (on
// peer teardown) returns it to the free list for reuse. The pool itself
// outlives every Address it hands out.
type AddressPool struct {
	mu   sync.Mutex
	free []*Address
}

// NewAddressPool pre-allocates size address slots with stable indices.
func NewAddressPool(size int) *AddressPool {
	p := &AddressPool{free: make([]*Address, 0, size)}
	for i := 0; i < size; i++ {
		p.free = append(p.free, &Address{slot: i})
	}
	return p
}

// Resolve claims a free slot and fills it from a host/port pair.
func (p *AddressPool) Resolve(host, port string) (*Address, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, ErrAddressResolutionFailed
	}
	return p.claim(udpAddr)
}

// Adopt claims a free slot for an already-resolved net.UDPAddr, as seen
// on the receive path where the kernel has already done the resolution.
func (p *AddressPool) Adopt(udpAddr *net.UDPAddr) (*Address, error) {
	return p.claim(udpAddr)
}

func (p *AddressPool) claim(udpAddr *net.UDPAddr) (*Address, error) {
	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		return nil, ErrAddressPoolExhausted
	}
	n := len(p.free) - 1
	a := p.free[n]
	p.free = p.free[:n]
	p.mu.Unlock()

	a.udp = udpAddr
	a.str = udpAddr.String()
	return a, nil
}

// Release returns an Address to the pool's free list. The slot index is
// preserved; the endpoint fields are cleared so a stale lookup can't
// observe a half-released Address.
func (p *AddressPool) Release(a *Address) {
	a.udp = nil
	a.str = ""
	p.mu.Lock()
	p.free = append(p.free, a)
	p.mu.Unlock()
}
