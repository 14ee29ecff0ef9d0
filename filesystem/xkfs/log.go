package xkfs

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/diskfs/go-xkfs/backend"
	log "github.com/sirupsen/logrus"
)

const (
	logInvalid uint32 = 0
	logValid   uint32 = 1

	logHeaderFixed = 8
	maxLogCapacity = (BlockSize - logHeaderFixed) / 4
)

// logHeader is the first block of the log region
type logHeader struct {
	valid uint32
	size  uint32
	dest  []uint32
}

func (h *logHeader) toBytes() []byte {
	b := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(b[0x0:0x4], h.valid)
	binary.LittleEndian.PutUint32(b[0x4:0x8], h.size)
	for i, d := range h.dest {
		off := logHeaderFixed + i*4
		binary.LittleEndian.PutUint32(b[off:off+4], d)
	}
	return b
}

func logHeaderFromBytes(b []byte, capacity uint32) (*logHeader, error) {
	h := logHeader{dest: make([]uint32, capacity)}
	var (
		offset int
		err    error
	)
	if offset, err = toUint32(b, offset, &h.valid); err != nil {
		return nil, fmt.Errorf("failed to deserialize valid flag: %w", err)
	}
	if offset, err = toUint32(b, offset, &h.size); err != nil {
		return nil, fmt.Errorf("failed to deserialize size: %w", err)
	}
	for i := range h.dest {
		if offset, err = toUint32(b, offset, &h.dest[i]); err != nil {
			return nil, fmt.Errorf("failed to deserialize destination %d: %w", i, err)
		}
	}
	if h.valid != logValid && h.valid != logInvalid {
		return nil, fmt.Errorf("unknown log state %d", h.valid)
	}
	if h.size > capacity {
		return nil, fmt.Errorf("log holds %d blocks, capacity is %d", h.size, capacity)
	}
	return &h, nil
}

// wal is the redo log. One transaction is open at a time, from begin until
// commit returns. Blocks logged twice in a transaction share one slot.
type wal struct {
	// tx is held for the whole transaction
	tx sync.Mutex

	mu       sync.Mutex
	dev      backend.Storage
	start    uint32
	capacity uint32
	header   logHeader
	open     bool
	// pending holds the logged copy of each block, so reads inside a
	// transaction see blocks written earlier in it
	pending map[uint32][]byte
	slots   map[uint32]uint32

	commits  uint64
	absorbed uint64
}

func newWAL(dev backend.Storage, start, capacity uint32) *wal {
	return &wal{
		dev:      dev,
		start:    start,
		capacity: capacity,
	}
}

func (w *wal) readDisk(n uint32, b []byte) {
	if err := w.dev.ReadBlock(n, b); err != nil {
		fatal("log: read block %d: %v", n, err)
	}
}

func (w *wal) writeDisk(n uint32, b []byte) {
	if err := w.dev.WriteBlock(n, b); err != nil {
		fatal("log: write block %d: %v", n, err)
	}
}

func (w *wal) writeHeader() {
	w.writeDisk(w.start, w.header.toBytes())
}

// begin opens a transaction, blocking while another is open
func (w *wal) begin() {
	w.tx.Lock()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.header = logHeader{valid: logInvalid, dest: make([]uint32, w.capacity)}
	w.writeHeader()
	w.pending = make(map[uint32][]byte)
	w.slots = make(map[uint32]uint32)
	w.open = true
	log.Debugf("log: begin transaction %d", w.commits+1)
}

// write records the new content of block n in the open transaction
func (w *wal) write(n uint32, b []byte) {
	if len(b) != int(BlockSize) {
		fatal("log: write of %d bytes to block %d", len(b), n)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		fatal("log: write to block %d outside of a transaction", n)
	}
	if w.header.valid != logInvalid {
		fatal("log: write to block %d after commit started", n)
	}
	slot, ok := w.slots[n]
	if ok {
		w.absorbed++
	} else {
		if w.header.size >= w.capacity {
			fatal("log: transaction too large, %d blocks already logged", w.header.size)
		}
		slot = w.header.size
		w.slots[n] = slot
	}
	w.writeDisk(w.start+1+slot, b)
	if !ok {
		w.header.dest[slot] = n
		w.header.size++
		w.writeHeader()
	}
	w.pending[n] = append([]byte(nil), b...)
}

// read fills b with block n, as seen by the open transaction if there is one
func (w *wal) read(n uint32, b []byte) {
	w.mu.Lock()
	if w.open {
		if data, ok := w.pending[n]; ok {
			copy(b, data)
			w.mu.Unlock()
			return
		}
	}
	w.mu.Unlock()
	w.readDisk(n, b)
}

// commit makes the transaction durable, installs it and closes it
func (w *wal) commit() {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		fatal("log: commit without a transaction")
	}
	size := w.header.size
	if size > 0 {
		w.markValid()
		w.install()
		w.clear()
	}
	w.open = false
	w.pending = nil
	w.slots = nil
	w.commits++
	log.Debugf("log: committed transaction %d with %d blocks", w.commits, size)
	w.mu.Unlock()
	w.tx.Unlock()
}

// markValid is the commit point. Once the header is written valid, the
// transaction survives a crash.
func (w *wal) markValid() {
	w.header.valid = logValid
	w.writeHeader()
}

func (w *wal) install() {
	replay(w.dev, w.start, &w.header)
}

func (w *wal) clear() {
	w.header = logHeader{valid: logInvalid, dest: make([]uint32, w.capacity)}
	w.writeHeader()
}

// replay copies every logged slot to its destination
func replay(dev backend.Storage, start uint32, h *logHeader) {
	b := make([]byte, BlockSize)
	for i := uint32(0); i < h.size; i++ {
		if err := dev.ReadBlock(start+1+i, b); err != nil {
			fatal("log: read slot %d: %v", i, err)
		}
		if err := dev.WriteBlock(h.dest[i], b); err != nil {
			fatal("log: install block %d: %v", h.dest[i], err)
		}
	}
}

// recover completes a transaction that reached its commit point before a
// crash and discards one that did not. It returns the number of blocks replayed.
func (w *wal) recover() (int, error) {
	b := make([]byte, BlockSize)
	if err := w.dev.ReadBlock(w.start, b); err != nil {
		return 0, fmt.Errorf("could not read log header: %w", err)
	}
	h, err := logHeaderFromBytes(b, w.capacity)
	if err != nil {
		return 0, err
	}
	replayed := 0
	if h.valid == logValid {
		for _, d := range h.dest[:h.size] {
			if d >= w.dev.Blocks() {
				return 0, fmt.Errorf("log destination %d is past the end of the device", d)
			}
		}
		replay(w.dev, w.start, h)
		replayed = int(h.size)
	}
	w.header = logHeader{valid: logInvalid, dest: make([]uint32, w.capacity)}
	w.writeHeader()
	return replayed, nil
}
