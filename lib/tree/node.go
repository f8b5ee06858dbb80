// Package tree implements the immutable directory tree that the
// bootstrap pass builds from a single forward scan of an archive, and
// the indices (by name, by archive entry ordinal) that the read path
// queries afterward. Nothing in this package mutates a Node once
// bootstrap has returned — see Tree.Freeze.
package tree

import (
	"os"
	"time"
)

// DirectoryBlockSize is the synthetic per-child size unit accounted
// against a directory's Size field, and the bsize/frsize reported by
// statfs. It mirrors the block size archivemount's C ancestor used for
// st_blksize accounting.
const DirectoryBlockSize = 4096

// NoIndex is the index_within_archive value for directories that were
// synthesized from a path prefix rather than read from an archive
// header.
const NoIndex = -1

// EntryKind distinguishes the three node shapes the engine can hold. A
// Node's Kind is fixed at construction.
type EntryKind uint8

const (
	KindDirectory EntryKind = iota
	KindRegular
	KindSymlink
)

// Node is one entry in the virtual filesystem tree: either a directory
// (real or synthesized from a path prefix), a regular file, or a
// symlink. See spec §3 for the field-by-field contract.
type Node struct {
	// RelName is the last path component; it never contains a slash.
	RelName string

	Kind EntryKind

	// Symlink holds the link target text; empty unless Kind ==
	// KindSymlink.
	Symlink string

	// IndexWithinArchive is the zero-based ordinal this entry held
	// during header iteration, or NoIndex for implicit directories.
	IndexWithinArchive int

	// Size is the decompressed byte length for regular files. For
	// directories it is a synthetic running total: DirectoryBlockSize
	// per child, used only for statfs/stat block accounting.
	Size int64

	// Mtime is the entry's last-modification time; for a directory it
	// is the maximum Mtime among all descendants seen so far.
	Mtime time.Time

	// Mode carries the POSIX file-type and permission bits, already
	// restricted to the subset spec §3 describes (read/execute only,
	// directory bit, widened on directories as children are attached).
	Mode os.FileMode

	Parent      *Node
	FirstChild  *Node
	LastChild   *Node
	NextSibling *Node
}

// IsDir reports whether this node is a directory (real or implicit).
func (n *Node) IsDir() bool { return n.Kind == KindDirectory }

// IsSymlink reports whether this node is a symlink.
func (n *Node) IsSymlink() bool { return n.Kind == KindSymlink }

// Path reconstructs this node's absolute pathname by walking Parent
// links to the root. Used only for diagnostics — the read path
// addresses nodes by pointer, never by re-parsing a path.
func (n *Node) Path() string {
	if n.Parent == nil {
		return "/"
	}
	var components []string
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		components = append(components, cur.RelName)
	}
	out := ""
	for i := len(components) - 1; i >= 0; i-- {
		out += "/" + components[i]
	}
	return out
}

// appendChild links child as the new last child of n, preserving
// entry-insertion order. Callers must hold no other reference to
// child's sibling pointer — it is overwritten.
func (n *Node) appendChild(child *Node) {
	child.Parent = n
	child.NextSibling = nil
	if n.LastChild == nil {
		n.FirstChild = child
		n.LastChild = child
		return
	}
	n.LastChild.NextSibling = child
	n.LastChild = child
}

// widenModeForChild folds a newly attached (or updated) child's
// read/execute bits into the parent directory's mode, mirroring the
// original's "union of descendants' r/x bits, read mirrored into
// search position" rule. See spec §4.5 leaf-insertion and the §9 open
// question about directories that end up unlistable.
func (n *Node) widenModeForChild(childMode os.FileMode) {
	bits := childMode & 0o444 // read bits at any of user/group/other
	// Mirror every read bit into the matching execute/search bit.
	if bits&0o400 != 0 {
		bits |= 0o500
	}
	if bits&0o040 != 0 {
		bits |= 0o050
	}
	if bits&0o004 != 0 {
		bits |= 0o005
	}
	// Also propagate the child's own execute bits, whatever the
	// child's kind.
	bits |= childMode & 0o111
	n.Mode |= bits | os.ModeDir
}
