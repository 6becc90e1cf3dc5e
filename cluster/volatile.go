package cluster

import (
	"sync/atomic"
	"unsafe"
)

// The reference implementation marks every field shared between this
// process and the guest core as volatile and pairs cross-thread updates
// with __sync_synchronize()/atomic_thread_fence. Go has no volatile
// qualifier; sync/atomic's Load/Store calls are both the ordering
// primitive and the compiler barrier, so the packages that share
// memory with the guest (uart, virtqueue, mmio) read and write their
// cursor and register words through the helpers here. Byte buffers,
// the uart magic word and descriptor-table fields are still accessed
// with plain slice indexing.

// LoadFenced reads a uint32 at the given byte offset with acquire
// semantics: nothing the caller does with the result can be reordered
// before this load completes.
func LoadFenced(mem []byte, off uint64) uint32 {
	return atomic.LoadUint32((*uint32)(wordPtr(mem, off)))
}

// StoreFenced writes a uint32 at the given byte offset with release
// semantics: every prior write the caller made to mem is visible to
// another thread before this store becomes visible.
func StoreFenced(mem []byte, off uint64, v uint32) {
	atomic.StoreUint32((*uint32)(wordPtr(mem, off)), v)
}

func wordPtr(mem []byte, off uint64) unsafe.Pointer {
	return unsafe.Pointer(&mem[off])
}
