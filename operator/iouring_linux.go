//go:build linux

package operator

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// This is a minimal io_uring binding: enough to submit the operations
// §4.7 names (read/write/accept/connect/recv/send/poll_add) and reap their
// completions through the standard two-ring mmap protocol. It does not
// implement SQPOLL, registered buffers/files, or any of io_uring's other
// advanced-mode optimizations — those are exactly the kind of kernel- and
// feature-dependent behavior that is appropriate to leave out of an
// "optional, where supported" completion path (§4.7); NewLinux simply
// returns a NoopBackend if io_uring_setup itself fails (old kernel,
// seccomp, container sandbox, ...), whose Submit reports ErrUnsupported.
//
// Layout grounded on other_examples' go-iouring ring.go/consts.go, which
// document the same struct shapes this binding constructs by hand rather
// than importing (this module already depends on golang.org/x/sys/unix
// for the selector backends, so the raw syscalls are reused from there
// instead of adding a second io_uring dependency).

const (
	ioringOffSQRing = 0x00000000
	ioringOffCQRing = 0x08000000
	ioringOffSQEs   = 0x10000000

	ioringEnterGetEvents = 1 << 0

	ioringOpNop     = 0
	ioringOpReadv   = 1
	ioringOpWritev  = 2
	ioringOpAccept  = 13
	ioringOpConnect = 16
	ioringOpRead    = 22
	ioringOpWrite   = 23
	ioringOpRecv    = 27
	ioringOpSend    = 26
	ioringOpPollAdd = 6
)

type sqRingOffsets struct {
	Head, Tail, RingMask, RingEntries, Flags, Dropped, Array, Resv1 uint32
	UserAddr                                                       uint64
}

type cqRingOffsets struct {
	Head, Tail, RingMask, RingEntries, Overflow, Cqes, Flags, Resv1 uint32
	UserAddr                                                        uint64
}

type uringParams struct {
	SQEntries, CQEntries uint32
	Flags                uint32
	SQThreadCPU          uint32
	SQThreadIdle         uint32
	Features             uint32
	WQFd                 uint32
	Resv                 [3]uint32
	SQOff                sqRingOffsets
	CQOff                cqRingOffsets
}

// sqe mirrors struct io_uring_sqe (64 bytes); only the fields this binding
// populates are named distinctly, the rest is padding to keep the layout
// correct for the kernel ABI.
type sqe struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	FD          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	RWFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFDIn  int32
	_pad        [2]uint64
}

// cqe mirrors struct io_uring_cqe (16 bytes).
type cqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// ringBackend is the Linux Backend implementation.
type ringBackend struct {
	fd int

	sqMmap, cqMmap, sqesMmap []byte

	sqHead, sqTail, sqMask, sqArrayOff *uint32
	sqArray                            []uint32
	sqes                               []sqe

	cqHead, cqTail, cqMask *uint32
	cqes                   []cqe

	mu       sync.Mutex
	nextData uint64
	entries  uint32
}

// NewLinux attempts to set up an io_uring instance with the given queue
// depth. It returns a NoopBackend (not an error) if io_uring_setup itself
// fails, matching §4.7's "where supported": callers should treat the
// returned Backend as usable either way and let Submit's ErrUnsupported
// drive the selector fallback.
func NewLinux(entries uint32) Backend {
	b, err := newRingBackend(entries)
	if err != nil {
		return NewNoop()
	}
	return b
}

func newRingBackend(entries uint32) (*ringBackend, error) {
	var params uringParams
	r1, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, errno
	}
	fd := int(r1)

	sqRingSize := params.SQOff.Array + params.SQEntries*4
	cqRingSize := params.CQOff.Cqes + params.CQEntries*uint32(unsafe.Sizeof(cqe{}))

	sqMmap, err := unix.Mmap(fd, ioringOffSQRing, int(sqRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	cqMmap, err := unix.Mmap(fd, ioringOffCQRing, int(cqRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMmap)
		unix.Close(fd)
		return nil, err
	}
	sqesMmap, err := unix.Mmap(fd, ioringOffSQEs, int(params.SQEntries)*int(unsafe.Sizeof(sqe{})), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMmap)
		unix.Munmap(cqMmap)
		unix.Close(fd)
		return nil, err
	}

	b := &ringBackend{
		fd:       fd,
		sqMmap:   sqMmap,
		cqMmap:   cqMmap,
		sqesMmap: sqesMmap,
		entries:  params.SQEntries,
	}

	b.sqHead = (*uint32)(unsafe.Pointer(&sqMmap[params.SQOff.Head]))
	b.sqTail = (*uint32)(unsafe.Pointer(&sqMmap[params.SQOff.Tail]))
	b.sqMask = (*uint32)(unsafe.Pointer(&sqMmap[params.SQOff.RingMask]))
	b.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&sqMmap[params.SQOff.Array])), params.SQEntries)
	b.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&sqesMmap[0])), params.SQEntries)

	b.cqHead = (*uint32)(unsafe.Pointer(&cqMmap[params.CQOff.Head]))
	b.cqTail = (*uint32)(unsafe.Pointer(&cqMmap[params.CQOff.Tail]))
	b.cqMask = (*uint32)(unsafe.Pointer(&cqMmap[params.CQOff.RingMask]))
	b.cqes = unsafe.Slice((*cqe)(unsafe.Pointer(&cqMmap[params.CQOff.Cqes])), params.CQEntries)

	return b, nil
}

func (b *ringBackend) opFor(op Op) uint8 {
	switch op {
	case OpRead:
		return ioringOpRead
	case OpWrite:
		return ioringOpWrite
	case OpAccept:
		return ioringOpAccept
	case OpConnect:
		return ioringOpConnect
	case OpRecv:
		return ioringOpRecv
	case OpSend:
		return ioringOpSend
	case OpPollAdd:
		return ioringOpPollAdd
	default:
		return ioringOpNop
	}
}

// Submit writes one SQE and advances the SQ tail; it does not itself call
// io_uring_enter to tell the kernel about it — that's batched into the
// next Reap call, matching how a real scheduler would coalesce many
// submissions made during one scheduling pass before blocking to wait for
// completions.
func (b *ringBackend) Submit(op Submission) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mask := atomic.LoadUint32(b.sqMask)
	tail := atomic.LoadUint32(b.sqTail)
	idx := tail & mask

	b.nextData++
	userData := b.nextData

	e := &b.sqes[idx]
	*e = sqe{}
	e.Opcode = b.opFor(op.Op)
	e.FD = int32(op.FD)
	e.UserData = userData
	if len(op.Buf) > 0 {
		e.Addr = uint64(uintptr(unsafe.Pointer(&op.Buf[0])))
		e.Len = uint32(len(op.Buf))
	} else if len(op.Addr) > 0 {
		e.Addr = uint64(uintptr(unsafe.Pointer(&op.Addr[0])))
		e.Len = uint32(len(op.Addr))
	}

	b.sqArray[idx] = idx
	atomic.StoreUint32(b.sqTail, tail+1)

	return userData, nil
}

// Reap calls io_uring_enter to submit pending SQEs and wait for at least
// want completions, delivering each via deliver. timeoutNanos is not
// used: io_uring's own IORING_OP_TIMEOUT is not wired up here (it needs a
// kernel timespec submission of its own), and GETEVENTS is issued with
// min_complete = want, so a positive want blocks until that many
// completions arrive while a want of 0 only collects what is already
// complete (evloop's tick passes 0).
func (b *ringBackend) Reap(want int, timeoutNanos int64, deliver func(uint64, Result)) (int, error) {
	b.mu.Lock()
	tail := atomic.LoadUint32(b.sqTail)
	head := atomic.LoadUint32(b.sqHead)
	toSubmit := tail - head
	b.mu.Unlock()

	_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(b.fd), uintptr(toSubmit), uintptr(want), ioringEnterGetEvents, 0, 0)
	if errno != 0 && errno != unix.EINTR {
		return 0, errno
	}

	mask := atomic.LoadUint32(b.cqMask)
	cHead := atomic.LoadUint32(b.cqHead)
	cTail := atomic.LoadUint32(b.cqTail)

	n := 0
	for cHead != cTail {
		idx := cHead & mask
		c := b.cqes[idx]
		res := Result{N: int(c.Res)}
		if c.Res < 0 {
			res.Err = unix.Errno(-c.Res)
			res.N = 0
		}
		deliver(c.UserData, res)
		cHead++
		n++
	}
	atomic.StoreUint32(b.cqHead, cHead)

	return n, nil
}

func (b *ringBackend) Close() error {
	unix.Munmap(b.sqesMmap)
	unix.Munmap(b.cqMmap)
	unix.Munmap(b.sqMmap)
	return unix.Close(b.fd)
}
