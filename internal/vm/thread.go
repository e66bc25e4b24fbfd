package vm

import "sync"

// ThreadHandle pairs an ExecutionUnit with an OS-level worker goroutine
// (§4.3). The VM owns every handle; a handle exclusively owns its
// execution unit.
type ThreadHandle struct {
	ID   uint64
	unit *ExecutionUnit

	startOnce sync.Once
	done      chan struct{}
	stopReq   bool
	mu        sync.Mutex
}

func newThreadHandle(id uint64, owner *VirtualMachine, stackTop, entry uint64) *ThreadHandle {
	h := &ThreadHandle{ID: id, done: make(chan struct{})}
	h.unit = newExecutionUnit(owner, h, stackTop, entry)
	return h
}

// start launches the worker exactly once; idempotent after the first call
// (§4.3).
func (h *ThreadHandle) start() {
	h.startOnce.Do(func() {
		go func() {
			h.unit.run()
			h.unit.owner.finishThread(h.ID)
			close(h.done)
		}()
	})
}

// join blocks until the worker exits.
func (h *ThreadHandle) join() {
	<-h.done
}

// GetRegister reads another unit's register under its mutex (§4.3).
func (h *ThreadHandle) GetRegister(i uint8) uint64 {
	h.unit.mu.Lock()
	defer h.unit.mu.Unlock()
	return h.unit.regs[i]
}

// SetRegister writes another unit's register under its mutex (§4.3).
func (h *ThreadHandle) SetRegister(i uint8, v uint64) {
	h.unit.mu.Lock()
	defer h.unit.mu.Unlock()
	h.unit.regs[i] = v
}

// requestStop marks a best-effort stop request; the source leaves STOP's
// precise effect implementation-defined (§9), so the dispatch loop only
// checks this flag at instruction boundaries alongside vm.running.
func (h *ThreadHandle) requestStop() {
	h.mu.Lock()
	h.stopReq = true
	h.mu.Unlock()
}

func (h *ThreadHandle) stopRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopReq
}
