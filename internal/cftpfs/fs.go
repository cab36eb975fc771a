package cftpfs

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
)

// FileSystem is the dispatcher: it turns pathfs callbacks from the kernel
// into cache lookups and FTP operations, taking the handles, ftp and cache
// locks one at a time and never holding two of them at once.
type FileSystem struct {
	ctx *Context
}

// NewFileSystem wraps ctx as a pathfs.FileSystem.
func NewFileSystem(ctx *Context) pathfs.FileSystem {
	return &FileSystem{ctx: ctx}
}

func (fs *FileSystem) String() string { return "cftpfs" }

func (fs *FileSystem) SetDebug(debug bool) { fs.ctx.opts.Debug = debug }

func (fs *FileSystem) StatFs(name string) *fuse.StatfsOut {
	return &fuse.StatfsOut{
		Bsize:  4096,
		Blocks: 1 << 30,
		Bfree:  1 << 30,
		Bavail: 1 << 30,
		Files:  1 << 20,
		Ffree:  1 << 20,
	}
}

func (fs *FileSystem) OnMount(*pathfs.PathNodeFs) {}
func (fs *FileSystem) OnUnmount()                 {}

func normalize(name string) string {
	if name == "" {
		return "/"
	}
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}

// listDir returns the parsed items for dir, using the cache when fresh and
// otherwise fetching and re-parsing the raw LIST text. The cache lock is
// held for the lookup and again for the store, and the ftp lock only
// around the LIST itself; the two are never held at the same time.
func (c *Context) listDir(dir string) ([]Item, error) {
	c.cacheMu.Lock()
	items, ok := c.cache.get(dir)
	c.cacheMu.Unlock()
	if ok {
		return items, nil
	}

	c.ftpMu.Lock()
	raw, err := c.ftp.list(dir)
	c.ftpMu.Unlock()
	if err != nil {
		return nil, err
	}

	items = nil
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		it, ok := ParseLine(line)
		if !ok {
			continue
		}
		if it.Name == "." || it.Name == ".." {
			continue
		}
		items = append(items, it)
	}

	c.cacheMu.Lock()
	c.cache.put(dir, items)
	c.cacheMu.Unlock()
	return items, nil
}

// lookup finds name's entry within its parent directory's listing.
func (c *Context) lookup(name string) (Item, error) {
	name = normalize(name)
	if name == "/" {
		return Item{Name: "/", Kind: ItemDir}, nil
	}
	dir := path.Dir(name)
	base := path.Base(name)
	items, err := c.listDir(dir)
	if err != nil {
		return Item{}, err
	}
	for _, it := range items {
		if it.Name == base {
			return it, nil
		}
	}
	return Item{}, ErrNoSuchFile
}

// invalidateForWrite drops the cached listing of name's parent directory
// (and, for a rename, of the destination's parent too), implementing the
// corrected whole-path-component invalidation described in SPEC_FULL.md's
// REDESIGN FLAGS.
func (c *Context) invalidateForWrite(names ...string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	for _, n := range names {
		c.cache.invalidate(path.Dir(normalize(n)))
	}
}

// uploadHandle writes a handle's staging file back to the server and
// invalidates its parent's cached listing. It has no new-file special
// case: ftpClient.upload creates any missing parent directories on every
// upload, since MKD on an existing directory is harmless.
func (c *Context) uploadHandle(h *handle) error {
	c.ftpMu.Lock()
	err := c.ftp.upload(h.tempPath, h.path)
	c.ftpMu.Unlock()
	if err != nil {
		return err
	}
	c.invalidateForWrite(h.path)
	return nil
}

func (fs *FileSystem) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	name = normalize(name)
	if name == "/" {
		return &fuse.Attr{Mode: fuse.S_IFDIR | 0755}, fuse.OK
	}
	it, err := fs.ctx.lookup(name)
	if err != nil {
		return nil, statusFor(err)
	}
	return attrFromItem(it), fuse.OK
}

func attrFromItem(it Item) *fuse.Attr {
	mode := it.Mode()
	switch it.Kind {
	case ItemDir:
		mode |= fuse.S_IFDIR
	case ItemLink:
		mode |= fuse.S_IFLNK
	default:
		mode |= fuse.S_IFREG
	}
	return &fuse.Attr{
		Mode:  mode,
		Size:  it.Size,
		Mtime: uint64(it.MTime.Unix()),
		Atime: uint64(it.MTime.Unix()),
		Ctime: uint64(it.MTime.Unix()),
	}
}

func (fs *FileSystem) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	name = normalize(name)
	items, err := fs.ctx.listDir(name)
	if err != nil {
		return nil, statusFor(err)
	}
	entries := make([]fuse.DirEntry, 0, len(items))
	for _, it := range items {
		mode := uint32(fuse.S_IFREG)
		if it.Kind == ItemDir {
			mode = fuse.S_IFDIR
		} else if it.Kind == ItemLink {
			mode = fuse.S_IFLNK
		}
		entries = append(entries, fuse.DirEntry{Name: it.Name, Mode: mode})
	}
	return entries, fuse.OK
}

func (fs *FileSystem) flagsToOpenFlags(flags uint32, create bool) OpenFlags {
	const (
		oWRONLY = 1
		oRDWR   = 2
		oTRUNC  = 01000
	)
	of := OpenFlags{Create: create}
	if flags&oTRUNC != 0 {
		of.Truncate = true
	}
	if flags&(oWRONLY|oRDWR) != 0 {
		of.WriteOnly = flags&oWRONLY != 0
	}
	return of
}

func (fs *FileSystem) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	name = normalize(name)
	of := fs.flagsToOpenFlags(flags, false)

	fs.ctx.handlesMu.Lock()
	idx, h, err := fs.ctx.handles.allocate(fs.ctx.stageDir, name, of)
	fs.ctx.handlesMu.Unlock()
	if err != nil {
		return nil, statusFor(err)
	}

	if of.NeedsDownload() {
		fs.ctx.ftpMu.Lock()
		err = fs.ctx.ftp.download(name, h.tempPath)
		fs.ctx.ftpMu.Unlock()
		if err != nil {
			fs.ctx.handlesMu.Lock()
			fs.ctx.handles.release(idx)
			fs.ctx.handlesMu.Unlock()
			return nil, statusFor(err)
		}
	}

	f, ferr := newStagedFile(fs.ctx, idx, h)
	if ferr != nil {
		fs.ctx.handlesMu.Lock()
		fs.ctx.handles.release(idx)
		fs.ctx.handlesMu.Unlock()
		return nil, fuse.ToStatus(ferr)
	}
	return f, fuse.OK
}

func (fs *FileSystem) Create(name string, flags uint32, mode uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	name = normalize(name)
	of := fs.flagsToOpenFlags(flags, true)

	fs.ctx.handlesMu.Lock()
	idx, h, err := fs.ctx.handles.allocate(fs.ctx.stageDir, name, of)
	fs.ctx.handlesMu.Unlock()
	if err != nil {
		return nil, statusFor(err)
	}

	if of.NeedsDownload() {
		fs.ctx.ftpMu.Lock()
		dlErr := fs.ctx.ftp.download(name, h.tempPath)
		fs.ctx.ftpMu.Unlock()
		// A missing remote file is expected here (that's the common
		// Create case); only a connection-class failure is treated as
		// real, and any other download error is ignored.
		if dlErr != nil && !isConnError(dlErr) {
			dlErr = nil
		}
		if dlErr != nil {
			fs.ctx.handlesMu.Lock()
			fs.ctx.handles.release(idx)
			fs.ctx.handlesMu.Unlock()
			return nil, statusFor(dlErr)
		}
	}

	h.mu.Lock()
	h.dirty = true
	h.mu.Unlock()

	f, ferr := newStagedFile(fs.ctx, idx, h)
	if ferr != nil {
		fs.ctx.handlesMu.Lock()
		fs.ctx.handles.release(idx)
		fs.ctx.handlesMu.Unlock()
		return nil, fuse.ToStatus(ferr)
	}
	fs.ctx.invalidateForWrite(name)
	return f, fuse.OK
}

func (fs *FileSystem) Mkdir(name string, mode uint32, context *fuse.Context) fuse.Status {
	name = normalize(name)
	fs.ctx.ftpMu.Lock()
	err := fs.ctx.ftp.mkdir(name)
	fs.ctx.ftpMu.Unlock()
	if err != nil {
		return statusFor(err)
	}
	fs.ctx.invalidateForWrite(name)
	return fuse.OK
}

func (fs *FileSystem) Rmdir(name string, context *fuse.Context) fuse.Status {
	name = normalize(name)
	fs.ctx.ftpMu.Lock()
	err := fs.ctx.ftp.rmdir(name)
	fs.ctx.ftpMu.Unlock()
	if err != nil {
		return statusFor(err)
	}
	fs.ctx.invalidateForWrite(name)
	return fuse.OK
}

func (fs *FileSystem) Unlink(name string, context *fuse.Context) fuse.Status {
	name = normalize(name)
	fs.ctx.ftpMu.Lock()
	err := fs.ctx.ftp.delete(name)
	fs.ctx.ftpMu.Unlock()
	if err != nil {
		return statusFor(err)
	}
	fs.ctx.invalidateForWrite(name)
	return fuse.OK
}

// Rename invalidates both the source and destination parent directories -
// the corrected behavior from SPEC_FULL.md's REDESIGN FLAGS, replacing a
// coarser whole-tree invalidation.
func (fs *FileSystem) Rename(oldName, newName string, context *fuse.Context) fuse.Status {
	oldName, newName = normalize(oldName), normalize(newName)
	fs.ctx.ftpMu.Lock()
	err := fs.ctx.ftp.rename(oldName, newName)
	fs.ctx.ftpMu.Unlock()
	if err != nil {
		return statusFor(err)
	}
	fs.ctx.invalidateForWrite(oldName, newName)
	return fuse.OK
}

// Truncate handles ftruncate-without-a-live-handle: download, truncate
// locally, upload, clean up. Most truncations go through an open handle's
// own Truncate instead; this path exists for the rarer direct syscall.
func (fs *FileSystem) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	name = normalize(name)
	of := OpenFlags{Truncate: size == 0}

	fs.ctx.handlesMu.Lock()
	idx, h, err := fs.ctx.handles.allocate(fs.ctx.stageDir, name, of)
	fs.ctx.handlesMu.Unlock()
	if err != nil {
		return statusFor(err)
	}
	defer func() {
		fs.ctx.handlesMu.Lock()
		fs.ctx.handles.release(idx)
		fs.ctx.handlesMu.Unlock()
	}()

	if size != 0 {
		fs.ctx.ftpMu.Lock()
		dlErr := fs.ctx.ftp.download(name, h.tempPath)
		fs.ctx.ftpMu.Unlock()
		if dlErr != nil {
			return statusFor(dlErr)
		}
	}

	if err := os.Truncate(h.tempPath, int64(size)); err != nil {
		return fuse.ToStatus(err)
	}

	if err := fs.ctx.uploadHandle(h); err != nil {
		return statusFor(err)
	}
	return fuse.OK
}

func (fs *FileSystem) Chmod(name string, mode uint32, context *fuse.Context) fuse.Status {
	return fuse.OK
}

func (fs *FileSystem) Chown(name string, uid uint32, gid uint32, context *fuse.Context) fuse.Status {
	return fuse.OK
}

func (fs *FileSystem) Utimens(name string, atime *time.Time, mtime *time.Time, context *fuse.Context) fuse.Status {
	return fuse.OK
}

func (fs *FileSystem) Access(name string, mode uint32, context *fuse.Context) fuse.Status {
	return fuse.OK
}

func (fs *FileSystem) Link(oldName, newName string, context *fuse.Context) fuse.Status {
	return fuse.ENOSYS
}

func (fs *FileSystem) Mknod(name string, mode uint32, dev uint32, context *fuse.Context) fuse.Status {
	return fuse.ENOSYS
}

func (fs *FileSystem) Symlink(value, linkName string, context *fuse.Context) fuse.Status {
	return fuse.ENOSYS
}

func (fs *FileSystem) Readlink(name string, context *fuse.Context) (string, fuse.Status) {
	return "", fuse.ENOSYS
}

func (fs *FileSystem) GetXAttr(name string, attribute string, context *fuse.Context) ([]byte, fuse.Status) {
	return nil, fuse.ENOSYS
}

func (fs *FileSystem) ListXAttr(name string, context *fuse.Context) ([]string, fuse.Status) {
	return nil, fuse.ENOSYS
}

func (fs *FileSystem) SetXAttr(name string, attr string, data []byte, flags int, context *fuse.Context) fuse.Status {
	return fuse.ENOSYS
}

func (fs *FileSystem) RemoveXAttr(name string, attr string, context *fuse.Context) fuse.Status {
	return fuse.ENOSYS
}
