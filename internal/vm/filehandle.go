package vm

import (
	"os"

	"golang.org/x/sys/unix"

	"lvm/internal/bytecode"
	"lvm/internal/vmerr"
)

// FileHandle is §3's ⟨path, flags, mode, streams, preopened⟩ tuple. Actual
// I/O goes through golang.org/x/sys/unix rather than the os package so the
// READ/WRITE opcodes observe raw syscall semantics (short reads, EINTR,
// exact byte counts) instead of os.File's buffering.
type FileHandle struct {
	Path      string
	Flags     uint64
	Mode      uint64
	FD        int
	Preopened bool
}

func preopened(fd int, path string) *FileHandle {
	return &FileHandle{Path: path, FD: fd, Flags: bytecode.FilePreopen, Preopened: true}
}

func preopenedStdio() map[uint64]*FileHandle {
	return map[uint64]*FileHandle{
		0: preopened(int(os.Stdin.Fd()), "/dev/stdin"),
		1: preopened(int(os.Stdout.Fd()), "/dev/stdout"),
		2: preopened(int(os.Stderr.Fd()), "/dev/stderr"),
	}
}

func openFile(path string, flags, mode uint64) (*FileHandle, error) {
	var osFlags int
	switch {
	case flags&bytecode.FileRead != 0 && flags&bytecode.FileWrite != 0:
		osFlags = unix.O_RDWR | unix.O_CREAT
	case flags&bytecode.FileWrite != 0:
		osFlags = unix.O_WRONLY | unix.O_CREAT
	default:
		osFlags = unix.O_RDONLY
	}
	fd, err := unix.Open(path, osFlags, uint32(mode))
	if err != nil {
		return nil, vmerr.Wrap(vmerr.IoError, "open", err)
	}
	return &FileHandle{Path: path, Flags: flags, Mode: mode, FD: fd}, nil
}

func (f *FileHandle) read(buf []byte) (int, error) {
	n, err := unix.Read(f.FD, buf)
	if err != nil {
		return 0, vmerr.Wrap(vmerr.IoError, "read", err)
	}
	return n, nil
}

func (f *FileHandle) write(buf []byte) (int, error) {
	n, err := unix.Write(f.FD, buf)
	if err != nil {
		return 0, vmerr.Wrap(vmerr.IoError, "write", err)
	}
	return n, nil
}

// lookupFileOrFault resolves fd to its FileHandle or reports the §7
// InvalidFileDescriptor fault READ/WRITE/CLOSE must raise on an unknown fd.
func (u *ExecutionUnit) lookupFileOrFault(fd uint64) (*FileHandle, error) {
	f, ok := u.owner.lookupFD(fd)
	if !ok {
		return nil, vmerr.New(vmerr.InvalidFileDescriptor, "unknown file descriptor")
	}
	return f, nil
}

func (f *FileHandle) close() error {
	if f.Preopened {
		return nil
	}
	if err := unix.Close(f.FD); err != nil {
		return vmerr.Wrap(vmerr.IoError, "close", err)
	}
	return nil
}
