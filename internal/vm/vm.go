// Package vm implements the Execution Unit, Thread Handle, and Virtual
// Machine components of §4.2-4.4: the register file and dispatch loop, the
// OS-thread/execution-unit pairing, and the root object coordinating
// threads, file descriptors, and memory.
package vm

import (
	"sync"

	"github.com/google/uuid"

	"lvm/internal/memory"
	"lvm/internal/module"
	"lvm/internal/module/trace"
	"lvm/internal/vmerr"
	"lvm/internal/vmlog"
)

// VirtualMachine is the root object (§4.4): it owns Linear Memory, the
// thread-id → handle map, and the fd → FileHandle map, and serializes ID
// assignment and map mutation under its own mutex.
type VirtualMachine struct {
	Mem *memory.Memory

	mu        sync.Mutex
	threads   map[uint64]*ThreadHandle
	files     map[uint64]*FileHandle
	lastTID   uint64
	lastFD    uint64
	running   bool
	exitCode  int
	StackSize uint64

	sessionID uuid.UUID

	// Trace is an optional CBOR step recorder; nil disables recording
	// entirely, checked by ExecutionUnit.execute the way vmlog checks
	// Enabled().
	Trace *trace.Recorder
}

func New(stackSize uint64) *VirtualMachine {
	return &VirtualMachine{
		threads:   make(map[uint64]*ThreadHandle),
		files:     preopenedStdio(),
		StackSize: stackSize,
		lastFD:    2,
		sessionID: uuid.New(),
	}
}

// SessionID identifies this VM instance, surfaced in the CLI's timing log
// lines.
func (vm *VirtualMachine) SessionID() uuid.UUID { return vm.sessionID }

// Init populates Linear Memory from mod and preopens fds 0,1,2 (already done
// by New; Init only lays out memory) per §4.4.
func (vm *VirtualMachine) Init(mod *module.Module) error {
	vm.Mem = memory.New()
	return vm.Mem.Init(mod.Text, mod.Rodata, mod.Data, mod.BSSLength)
}

// nextID implements §4.4's "monotonic last counter with linear probing to
// skip reused values" policy, generic over the thread-id and fd spaces.
func nextID(last *uint64, taken func(uint64) bool) uint64 {
	id := *last + 1
	for taken(id) {
		id++
	}
	*last = id
	return id
}

// CreateThread allocates a fresh stack via Linear Memory and spawns a
// handle with a new thread id, per §4.4.
func (vm *VirtualMachine) CreateThread(entry uint64) (*ThreadHandle, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	stackTop, err := vm.allocStackLocked()
	if err != nil {
		return nil, err
	}

	id := nextID(&vm.lastTID, func(i uint64) bool { _, ok := vm.threads[i]; return ok })
	h := newThreadHandle(id, vm, stackTop, entry)
	vm.threads[id] = h
	return h, nil
}

func (vm *VirtualMachine) allocStackLocked() (uint64, error) {
	addr, err := vm.Mem.Alloc(vm.StackSize)
	if err != nil {
		return 0, err
	}
	return addr + vm.StackSize, nil
}

// Run creates a root thread at mod's entry point, transitions to running,
// and blocks until either the thread map empties or Exit is called (§4.4).
func (vm *VirtualMachine) Run(entry uint64) error {
	vm.mu.Lock()
	vm.running = true
	vm.mu.Unlock()

	root, err := vm.CreateThread(entry)
	if err != nil {
		return err
	}
	root.start()
	root.join()

	vm.joinRemaining()

	vm.mu.Lock()
	code := vm.exitCode
	vm.mu.Unlock()
	if code != 0 {
		return vmerr.New(vmerr.IllegalAddress, "root thread exited with nonzero status")
	}
	return nil
}

func (vm *VirtualMachine) joinRemaining() {
	for {
		vm.mu.Lock()
		var next *ThreadHandle
		for _, h := range vm.threads {
			next = h
			break
		}
		vm.mu.Unlock()
		if next == nil {
			return
		}
		next.join()
	}
}

// Running reports whether the VM has not yet observed Exit; the dispatch
// loop checks this at every instruction boundary (§5).
func (vm *VirtualMachine) Running() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.running
}

// Exit sets running=false; any thread observing this terminates at its
// next dispatch boundary (§4.4).
func (vm *VirtualMachine) Exit(status int) {
	vm.mu.Lock()
	vm.running = false
	vm.exitCode = status
	vm.mu.Unlock()
	vmlog.Tracef("EXIT status=%d", status)
}

func (vm *VirtualMachine) finishThread(id uint64) {
	vm.mu.Lock()
	delete(vm.threads, id)
	vm.mu.Unlock()
}

func (vm *VirtualMachine) lookupThread(id uint64) (*ThreadHandle, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	h, ok := vm.threads[id]
	return h, ok
}

func (vm *VirtualMachine) openFD(path string, flags, mode uint64) (uint64, error) {
	f, err := openFile(path, flags, mode)
	if err != nil {
		return 0, err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	fd := nextID(&vm.lastFD, func(i uint64) bool { _, ok := vm.files[i]; return ok })
	vm.files[fd] = f
	return fd, nil
}

func (vm *VirtualMachine) lookupFD(fd uint64) (*FileHandle, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	f, ok := vm.files[fd]
	return f, ok
}

func (vm *VirtualMachine) closeFD(fd uint64) error {
	vm.mu.Lock()
	f, ok := vm.files[fd]
	if ok {
		delete(vm.files, fd)
	}
	vm.mu.Unlock()
	if !ok {
		return vmerr.New(vmerr.InvalidFileDescriptor, "close of unknown fd")
	}
	return f.close()
}
