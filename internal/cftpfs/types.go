// Package cftpfs implements the translation layer between FUSE filesystem
// callbacks and the FTP protocol: a directory-listing cache, a bounded
// open-file handle table, a tolerant FTP listing parser and the dispatcher
// that wires them together.
package cftpfs

import "time"

// ItemKind is the kind of a directory entry as reported by the remote FTP
// server. The protocol does not distinguish further (no sockets, devices,
// etc.), so anything we don't recognize becomes ItemUnknown.
type ItemKind int

// Item kinds, matching the first column of a Unix listing line.
const (
	ItemUnknown ItemKind = iota
	ItemFile
	ItemDir
	ItemLink
)

// Item is one row of a directory listing, normalized from either a Unix
// ls -l style line or a Windows DIR style line.
type Item struct {
	Name  string
	Kind  ItemKind
	Size  uint64
	MTime time.Time
}

// Mode returns the POSIX-style mode bits for this item, per spec: files get
// 0644, directories 0755, links 0777, with the type bit applied by the
// caller (the dispatcher knows whether it needs a fuse.S_IFREG-style mode
// or a bare permission mask).
func (it Item) Mode() uint32 {
	switch it.Kind {
	case ItemDir:
		return 0755
	case ItemLink:
		return 0777
	case ItemFile:
		return 0644
	default:
		return 0644
	}
}
