package transport

import (
	"sync"

	"github.com/vitalwire/docan"
)

// MessagePool is the default [docan.MessageProvider]: a fixed number of
// preallocated [docan.TransportMessage] buffers handed out and reclaimed
// via an explicit free list — the same fixed-arena shape
// internal/pool.Pool gives the receiver/transmitter state-machine slots
// (spec.md §3.7), specialized here because a TransportMessage's Buffer
// must survive across Acquire/Release cycles: internal/pool.Pool zeroes
// the whole slot value on acquire, which would also wipe out the
// preallocated backing array this pool exists to reuse.
type MessagePool struct {
	mu   sync.Mutex
	msgs []docan.TransportMessage
	free []int
}

// NewMessagePool preallocates capacity buffers of bufferSize bytes each.
// No further allocation occurs after this call.
func NewMessagePool(capacity, bufferSize int) *MessagePool {
	msgs := make([]docan.TransportMessage, capacity)
	free := make([]int, capacity)
	for i := range msgs {
		msgs[i].Buffer = make([]byte, bufferSize)
		free[i] = capacity - 1 - i
	}
	return &MessagePool{msgs: msgs, free: free}
}

// ProvideTransportMessage implements [docan.MessageProvider].
func (p *MessagePool) ProvideTransportMessage(sizeHint docan.MessageSize) (*docan.TransportMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, false
	}
	index := p.free[len(p.free)-1]
	msg := &p.msgs[index]
	if int(sizeHint) > len(msg.Buffer) {
		return nil, false
	}
	p.free = p.free[:len(p.free)-1]
	msg.Reset()
	return msg, true
}

// ReleaseTransportMessage implements [docan.MessageProvider]. Releasing a
// buffer not owned by this pool, or already released, is a no-op —
// matching internal/pool.Pool's idempotent release.
func (p *MessagePool) ReleaseTransportMessage(msg *docan.TransportMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	index := p.indexOf(msg)
	if index < 0 {
		return
	}
	for _, f := range p.free {
		if f == index {
			return
		}
	}
	p.free = append(p.free, index)
}

func (p *MessagePool) indexOf(msg *docan.TransportMessage) int {
	for i := range p.msgs {
		if &p.msgs[i] == msg {
			return i
		}
	}
	return -1
}
