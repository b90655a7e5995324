//go:build linux

package shardio

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// x/sys/unix ships only the raw io_uring syscall numbers, so the ABI
// constants and structs are declared here, mirroring
// <linux/io_uring.h>.

// mmap offsets selecting which ring region an io_uring fd maps.
const (
	uringOffSQRing uint64 = 0
	uringOffCQRing uint64 = 0x8000000
	uringOffSQEs   uint64 = 0x10000000
)

// IORING_FEAT_SINGLE_MMAP: the kernel lays out both rings in one
// region and the SQ mapping covers the CQ ring too.
const uringFeatSingleMmap uint32 = 1 << 0

// IORING_ENTER_GETEVENTS: io_uring_enter waits for minComplete
// completions in addition to flushing submissions.
const uringEnterGetevents uint32 = 1 << 0

// Submission opcodes used by this backend.
const (
	uringOpNop         uint8 = 0
	uringOpFsync       uint8 = 3
	uringOpTimeout     uint8 = 11
	uringOpAsyncCancel uint8 = 14
	uringOpRead        uint8 = 22
	uringOpWrite       uint8 = 23
)

// uringSQOffsets mirrors struct io_sqring_offsets.
type uringSQOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

// uringCQOffsets mirrors struct io_cqring_offsets.
type uringCQOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

// uringParams mirrors struct io_uring_params.
type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        uringSQOffsets
	cqOff        uringCQOffsets
}

// uringSQE mirrors struct io_uring_sqe. 64 bytes.
type uringSQE struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	_           [2]uint64
}

// uringCQE mirrors struct io_uring_cqe. 16 bytes.
type uringCQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

func ioUringSetup(entries uint32, params *uringParams) (int, error) {
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		return 0, errno
	}
	return int(fd), nil
}

func ioUringEnter(fd int, toSubmit, minComplete, flags uint32) (int, error) {
	n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(fd), uintptr(toSubmit), uintptr(minComplete),
		uintptr(flags), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// uring wraps the mmap'd submission/completion ring pair of one
// io_uring instance. The kernel shares the head/tail indices through
// the mapped memory; loads of kernel-written indices and stores of
// our own are made with atomics to order them against the kernel's.
type uring struct {
	fd int

	sqHead  *uint32
	sqTail  *uint32
	sqMask  uint32
	sqArray []uint32
	sqes    []uringSQE

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []uringCQE

	sqEntries uint32

	sqRing []byte
	cqRing []byte
	sqeMem []byte
}

func newURing(entries uint32) (*uring, error) {
	var params uringParams
	fd, err := ioUringSetup(entries, &params)
	if err != nil {
		return nil, err
	}

	r := &uring{fd: fd, sqEntries: params.sqEntries}

	sqSize := int(params.sqOff.array + params.sqEntries*uint32(unsafe.Sizeof(uint32(0))))
	cqSize := int(params.cqOff.cqes + params.cqEntries*uint32(unsafe.Sizeof(uringCQE{})))
	single := params.features&uringFeatSingleMmap != 0
	if single {
		sqSize = max(sqSize, cqSize)
		cqSize = sqSize
	}

	r.sqRing, err = unix.Mmap(fd, int64(uringOffSQRing), sqSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if single {
		r.cqRing = r.sqRing
	} else {
		r.cqRing, err = unix.Mmap(fd, int64(uringOffCQRing), cqSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			r.close()
			return nil, err
		}
	}
	r.sqeMem, err = unix.Mmap(fd, int64(uringOffSQEs), int(params.sqEntries)*int(unsafe.Sizeof(uringSQE{})),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		r.close()
		return nil, err
	}

	r.sqHead = (*uint32)(unsafe.Pointer(&r.sqRing[params.sqOff.head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&r.sqRing[params.sqOff.tail]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&r.sqRing[params.sqOff.ringMask]))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&r.sqRing[params.sqOff.array])), params.sqEntries)
	r.sqes = unsafe.Slice((*uringSQE)(unsafe.Pointer(&r.sqeMem[0])), params.sqEntries)

	r.cqHead = (*uint32)(unsafe.Pointer(&r.cqRing[params.cqOff.head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&r.cqRing[params.cqOff.tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&r.cqRing[params.cqOff.ringMask]))
	r.cqes = unsafe.Slice((*uringCQE)(unsafe.Pointer(&r.cqRing[params.cqOff.cqes])), params.cqEntries)

	return r, nil
}

// tryPush stages one entry into the submission ring. Returns false
// when the ring is full.
func (r *uring) tryPush(sqe *uringSQE) bool {
	head := atomic.LoadUint32(r.sqHead)
	tail := *r.sqTail
	if tail-head >= r.sqEntries {
		return false
	}
	idx := tail & r.sqMask
	r.sqes[idx] = *sqe
	r.sqArray[idx] = idx
	atomic.StoreUint32(r.sqTail, tail+1)
	return true
}

// reap drains available completion entries into out.
func (r *uring) reap(out []uringCQE) int {
	head := *r.cqHead
	tail := atomic.LoadUint32(r.cqTail)
	n := 0
	for head != tail && n < len(out) {
		out[n] = r.cqes[head&r.cqMask]
		head++
		n++
	}
	if n > 0 {
		atomic.StoreUint32(r.cqHead, head)
	}
	return n
}

// enter flushes up to toSubmit staged entries and, with
// uringEnterGetevents, waits for minComplete completions. One syscall
// covers the whole batch.
func (r *uring) enter(toSubmit, minComplete, flags uint32) (int, error) {
	return ioUringEnter(r.fd, toSubmit, minComplete, flags)
}

func (r *uring) close() {
	if r.sqeMem != nil {
		_ = unix.Munmap(r.sqeMem)
		r.sqeMem = nil
	}
	if r.cqRing != nil && &r.cqRing[0] != &r.sqRing[0] {
		_ = unix.Munmap(r.cqRing)
	}
	r.cqRing = nil
	if r.sqRing != nil {
		_ = unix.Munmap(r.sqRing)
		r.sqRing = nil
	}
	if r.fd >= 0 {
		_ = unix.Close(r.fd)
		r.fd = -1
	}
}
