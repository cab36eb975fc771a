package cftpfs

import (
	"os"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
)

// stagedFile is the nodefs.File the dispatcher hands back from Open and
// Create. It delegates Read/GetAttr/Chmod/etc. to a loopback file over the
// handle's local staging copy, and only intercepts the calls that need to
// know about the remote side: Write and Truncate (to mark the handle
// dirty), Flush (to upload the staging file back over FTP) and Release
// (to free the handle's slot).
type stagedFile struct {
	nodefs.File
	ctx *Context
	idx int
	h   *handle
}

func newStagedFile(ctx *Context, idx int, h *handle) (nodefs.File, error) {
	f, err := os.OpenFile(h.tempPath, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return &stagedFile{
		File: nodefs.NewLoopbackFile(f),
		ctx:  ctx,
		idx:  idx,
		h:    h,
	}, nil
}

func (f *stagedFile) Write(data []byte, off int64) (uint32, fuse.Status) {
	f.h.mu.Lock()
	f.h.dirty = true
	f.h.mu.Unlock()
	return f.File.Write(data, off)
}

func (f *stagedFile) Truncate(size uint64) fuse.Status {
	f.h.mu.Lock()
	f.h.dirty = true
	f.h.mu.Unlock()
	return f.File.Truncate(size)
}

// Flush uploads the staging file back to the server if it was modified.
// FUSE can call Flush more than once per open (once per close(2) on a
// dup'd descriptor), so a successful upload clears dirty to make the next
// Flush a no-op.
func (f *stagedFile) Flush() fuse.Status {
	if status := f.File.Flush(); status != fuse.OK {
		return status
	}
	f.h.mu.Lock()
	dirty := f.h.dirty
	f.h.mu.Unlock()
	if !dirty {
		return fuse.OK
	}
	if err := f.ctx.uploadHandle(f.h); err != nil {
		return fuse.ToStatus(err)
	}
	f.h.mu.Lock()
	f.h.dirty = false
	f.h.mu.Unlock()
	return fuse.OK
}

// Release frees the handle's slot and removes its staging file. Any
// pending upload must already have happened in Flush - Release has no
// error return in the nodefs.File interface, so it cannot report a failed
// upload.
func (f *stagedFile) Release() {
	f.File.Release()
	f.ctx.handlesMu.Lock()
	f.ctx.handles.release(f.idx)
	f.ctx.handlesMu.Unlock()
}
