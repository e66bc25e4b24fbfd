package memory

import (
	"sync/atomic"

	"github.com/petermattis/goid"
)

// reentrantMutex serializes atomic opcodes against each other (§4.1's
// lock()/unlock()) while letting the same OS thread re-enter: an atomic
// handler that itself triggers a page commit, or CAS-like helpers that call
// back into Memory, must not deadlock against themselves. sync.Mutex alone
// cannot express that; goid.Get() gives the calling goroutine's identity so
// we can track ownership and nesting depth explicitly. depth is only ever
// touched by the current owner, so it needs no synchronization of its own;
// owner is read by every contender so it is an atomic.
type reentrantMutex struct {
	sem   chan struct{}
	owner atomic.Int64
	depth int
}

func newReentrantMutex() *reentrantMutex {
	return &reentrantMutex{sem: make(chan struct{}, 1)}
}

func (m *reentrantMutex) Lock() {
	id := goid.Get()
	if m.owner.Load() == id && m.depth > 0 {
		m.depth++
		return
	}
	m.sem <- struct{}{}
	m.owner.Store(id)
	m.depth = 1
}

func (m *reentrantMutex) Unlock() {
	id := goid.Get()
	if m.owner.Load() != id || m.depth == 0 {
		panic("memory: unlock of lock not held by this goroutine")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		<-m.sem
	}
}
