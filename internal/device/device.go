// Package device implements the block device abstraction: fixed-size
// sector I/O addressed by sector index. The buffer cache and swap layers
// are the only callers; everything above them reaches a physical sector
// only through this package.
package device

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"kernelfs/internal/defs"
	"kernelfs/internal/klog"
)

// Cmd names a block device operation.
type Cmd uint

const (
	CmdRead Cmd = iota + 1
	CmdWrite
	CmdFlush
)

// Request describes one block device operation in flight. ID correlates
// log lines the way gcsfuse tags a request ID across its own async calls.
type Request struct {
	ID     uuid.UUID
	Cmd    Cmd
	Sector int
	Data   []byte // len == SectorSize for Read/Write
	Sync   bool
	AckCh  chan error
}

// Device is the interface the buffer cache and swap layers consume. The
// filesystem and swap partition are simply two independent Device values.
type Device interface {
	Read(sector int, dst []byte) defs.Err_t
	Write(sector int, src []byte) defs.Err_t
	Flush() defs.Err_t
	SectorSize() int
	NumSectors() int
}

// FileDevice backs a Device with a regular host file. I/O errors are
// treated as fatal — FileDevice panics rather than returning a code for
// those, and only returns defs.Err_t for calls that are out of range.
type FileDevice struct {
	mu         sync.Mutex
	f          *os.File
	sectorSize int
	numSectors int
	// bounds the number of concurrently in-flight requests, using the
	// weighted-semaphore idiom common for concurrency limits; serializes
	// disk access while still being able to name a request's "slot".
	inflight *semaphore.Weighted
}

// Open opens or creates path as a sectorSize*numSectors byte device image.
func Open(path string, sectorSize, numSectors int, maxInflight int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	sz := int64(sectorSize) * int64(numSectors)
	if err := f.Truncate(sz); err != nil {
		f.Close()
		return nil, err
	}
	if maxInflight <= 0 {
		maxInflight = 1
	}
	return &FileDevice{f: f, sectorSize: sectorSize, numSectors: numSectors,
		inflight: semaphore.NewWeighted(maxInflight)}, nil
}

func (d *FileDevice) SectorSize() int { return d.sectorSize }
func (d *FileDevice) NumSectors() int { return d.numSectors }

func (d *FileDevice) checkRange(sector int, buf []byte) defs.Err_t {
	if sector < 0 || sector >= d.numSectors {
		return -defs.EINVAL
	}
	if len(buf) != d.sectorSize {
		return -defs.EINVAL
	}
	return 0
}

func (d *FileDevice) issue(req *Request) {
	_ = d.inflight.Acquire(context.Background(), 1)
	defer d.inflight.Release(1)

	d.mu.Lock()
	defer d.mu.Unlock()

	off := int64(req.Sector) * int64(d.sectorSize)
	var err error
	switch req.Cmd {
	case CmdRead:
		_, err = d.f.ReadAt(req.Data, off)
	case CmdWrite:
		_, err = d.f.WriteAt(req.Data, off)
	case CmdFlush:
		err = d.f.Sync()
	}
	if err != nil {
		// I/O errors are fatal to this design.
		klog.Error("device I/O failure", "request", req.ID, "sector", req.Sector, "cmd", req.Cmd, "err", err)
		panic(fmt.Sprintf("device: fatal I/O error on sector %d: %v", req.Sector, err))
	}
	req.AckCh <- nil
}

func (d *FileDevice) Read(sector int, dst []byte) defs.Err_t {
	if e := d.checkRange(sector, dst); e != 0 {
		return e
	}
	req := &Request{ID: uuid.New(), Cmd: CmdRead, Sector: sector, Data: dst, Sync: true, AckCh: make(chan error, 1)}
	d.issue(req)
	<-req.AckCh
	return 0
}

func (d *FileDevice) Write(sector int, src []byte) defs.Err_t {
	if e := d.checkRange(sector, src); e != 0 {
		return e
	}
	req := &Request{ID: uuid.New(), Cmd: CmdWrite, Sector: sector, Data: src, Sync: true, AckCh: make(chan error, 1)}
	d.issue(req)
	<-req.AckCh
	return 0
}

func (d *FileDevice) Flush() defs.Err_t {
	req := &Request{ID: uuid.New(), Cmd: CmdFlush, Sync: true, AckCh: make(chan error, 1)}
	d.issue(req)
	<-req.AckCh
	return 0
}

// Close flushes and releases the backing file.
func (d *FileDevice) Close() error {
	d.Flush()
	return d.f.Close()
}
