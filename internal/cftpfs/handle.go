package cftpfs

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MaxHandles bounds the number of concurrently open files, per spec §3.
const MaxHandles = 1024

// ErrTooManyOpenFiles is returned by allocate when every slot is taken.
var ErrTooManyOpenFiles = errors.New("too many open files")

// OpenFlags describes the intent a caller expressed to open/create.
type OpenFlags struct {
	Create   bool
	Truncate bool
	// WriteOnly records an O_WRONLY open; it does not change whether the
	// remote content is downloaded (see NeedsDownload). FileSystem.Open
	// allocates a handle for every open, read-only ones included.
	WriteOnly bool
}

// NeedsDownload reports whether opening with these flags requires staging
// the existing remote content before use: anything that isn't pure-create.
func (f OpenFlags) NeedsDownload() bool {
	return !f.Create || f.Truncate
}

// handle is one open file: spec §3's "Open-file handle".
type handle struct {
	mu        sync.Mutex
	path      string
	flags     OpenFlags
	tempPath  string
	dirty     bool
	isNew     bool
	openedAt  time.Time
}

// handleTable is a fixed-size vector of optional handle slots; the integer
// index doubles as the externally visible file descriptor, per spec §3/§4.4.
type handleTable struct {
	mu      sync.Mutex
	slots   [MaxHandles]*handle
	stageMu sync.Mutex // serializes staging-filename generation only
	seq     uint64
}

func newHandleTable() *handleTable {
	return &handleTable{}
}

// allocate creates a handle backed by a fresh, empty staging file in dir,
// finds the first free slot, and returns its index. The staging filename
// embeds the process id, a timestamp and a monotonically increasing
// sequence number, which is enough to guarantee uniqueness within dir
// without needing the handle's own address (Go doesn't expose stable
// object addresses the way the source's C implementation does).
func (t *handleTable) allocate(dir, path string, flags OpenFlags) (int, *handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, h := range t.slots {
		if h == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -1, nil, ErrTooManyOpenFiles
	}

	t.stageMu.Lock()
	t.seq++
	seq := t.seq
	t.stageMu.Unlock()
	tempPath := fmt.Sprintf("%s/h-%d-%d-%d", dir, os.Getpid(), time.Now().UnixNano(), seq)

	f, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return -1, nil, errors.Wrap(err, "create staging file")
	}
	_ = f.Close()

	h := &handle{
		path:     path,
		flags:    flags,
		tempPath: tempPath,
		isNew:    flags.Create && !flags.NeedsDownload(),
		openedAt: time.Now(),
	}
	t.slots[idx] = h
	return idx, h, nil
}

// get returns the live handle at idx, or nil if idx is out of range or the
// slot is vacant.
func (t *handleTable) get(idx int) *handle {
	if idx < 0 || idx >= MaxHandles {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[idx]
}

// release deletes the staging file and frees the slot. Operating on an
// out-of-range or already-vacant index is a documented no-op, not an
// error: spec §4.4 treats it as cheap idempotent cleanup.
func (t *handleTable) release(idx int) {
	if idx < 0 || idx >= MaxHandles {
		return
	}
	t.mu.Lock()
	h := t.slots[idx]
	t.slots[idx] = nil
	t.mu.Unlock()
	if h == nil {
		return
	}
	_ = os.Remove(h.tempPath)
}
