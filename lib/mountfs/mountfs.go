// Package mountfs implements spec §4.6's read-path orchestrator as a
// github.com/hanwen/go-fuse/v2 filesystem. The entire directory tree
// is materialized once, eagerly, in the root node's OnAdd — the tree
// bootstrap already built is immutable (tree.Tree.Freeze, invariant
// I1), so there is nothing to discover lazily the way a
// content-addressed store's Lookup would.
package mountfs

import (
	"context"
	"fmt"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/archivemount/archivemount/lib/engine"
	"github.com/archivemount/archivemount/lib/reader"
	"github.com/archivemount/archivemount/lib/tree"
)

// Options configures the mount itself; read-time behavior comes from
// the Engine.
type Options struct {
	Mountpoint string
	Engine     *engine.Engine
	AllowOther bool
	Debug      bool
}

// Mount mounts the archive filesystem read-only at options.Mountpoint.
// The caller owns the returned server's lifetime (Wait/Unmount).
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	root := &rootNode{fsNode: fsNode{eng: options.Engine, node: options.Engine.Tree.Root()}}

	entryTimeout := time.Second
	attrTimeout := time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "archivemount",
			Name:       "archivemount",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting archive filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Engine.Logger.Info("archive mounted", "mount_point", options.Mountpoint)
	return server, nil
}

// fsNode is the InodeEmbedder for every node in the archive tree,
// directory or leaf alike — the method set below simply becomes
// inert for whichever operations the kernel never routes to a node of
// the wrong type (it never calls Readdir on a regular file, or Read
// on a directory).
type fsNode struct {
	gofuse.Inode
	eng  *engine.Engine
	node *tree.Node
}

var _ gofuse.InodeEmbedder = (*fsNode)(nil)
var _ gofuse.NodeGetattrer = (*fsNode)(nil)
var _ gofuse.NodeLookuper = (*fsNode)(nil)
var _ gofuse.NodeReaddirer = (*fsNode)(nil)
var _ gofuse.NodeReadlinker = (*fsNode)(nil)
var _ gofuse.NodeOpener = (*fsNode)(nil)
var _ gofuse.NodeReader = (*fsNode)(nil)
var _ gofuse.NodeStatfser = (*fsNode)(nil)

// rootNode additionally materializes the whole tree on mount.
type rootNode struct {
	fsNode
}

var _ gofuse.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	buildChildren(ctx, &r.Inode, r.eng, r.node)
}

// buildChildren recursively mirrors parent's tree.Node children into
// go-fuse Inodes, depth-first, in archive-insertion order (the same
// order tree.Node's sibling list already holds).
func buildChildren(ctx context.Context, parent *gofuse.Inode, eng *engine.Engine, n *tree.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		child := &fsNode{eng: eng, node: c}
		inode := parent.NewPersistentInode(ctx, child, gofuse.StableAttr{Mode: syscallType(c)})
		parent.AddChild(c.RelName, inode, true)
		if c.IsDir() {
			buildChildren(ctx, inode, eng, c)
		}
	}
}

// syscallType returns the S_IFxxx bits for a node's StableAttr.Mode —
// go-fuse only needs the type bits here, not permissions.
func syscallType(n *tree.Node) uint32 {
	switch n.Kind {
	case tree.KindDirectory:
		return syscall.S_IFDIR
	case tree.KindSymlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

// syscallMode returns the full S_IFxxx|permission mode for stat-family
// calls.
func syscallMode(n *tree.Node) uint32 {
	return syscallType(n) | uint32(n.Mode.Perm())
}

// entrySize reports a node's logical size: a symlink's size is its
// target string's length, never the placeholder tree.Node.Size a
// symlink entry happens to carry.
func entrySize(n *tree.Node) uint64 {
	if n.Kind == tree.KindSymlink {
		return uint64(len(n.Symlink))
	}
	return uint64(n.Size)
}

func fillAttr(attr *fuse.Attr, n *tree.Node, eng *engine.Engine) {
	size := entrySize(n)
	attr.Mode = syscallMode(n)
	attr.Size = size
	attr.Blksize = 512
	attr.Blocks = (size + 511) / 512
	attr.Nlink = 1
	attr.Owner = fuse.Owner{Uid: eng.Config.UID, Gid: eng.Config.GID}
	attr.SetTimes(&n.Mtime, &n.Mtime, &n.Mtime)
}

func (n *fsNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, n.node, n.eng)
	return 0
}

func (n *fsNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if !n.node.IsDir() {
		return nil, syscall.ENOTDIR
	}
	child := n.Inode.GetChild(name)
	if child == nil {
		return nil, syscall.ENOENT
	}
	childNode, ok := child.Operations().(*fsNode)
	if !ok {
		return nil, syscall.EIO
	}
	fillAttr(&out.Attr, childNode.node, n.eng)
	return child, 0
}

func (n *fsNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	if !n.node.IsDir() {
		return nil, syscall.ENOTDIR
	}

	entries := []fuse.DirEntry{
		{Name: ".", Mode: syscall.S_IFDIR},
		{Name: "..", Mode: syscall.S_IFDIR},
	}
	for c := n.node.FirstChild; c != nil; c = c.NextSibling {
		entries = append(entries, fuse.DirEntry{Name: c.RelName, Mode: syscallType(c)})
	}
	return &sliceDirStream{entries: entries}, 0
}

func (n *fsNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	if n.node.Kind != tree.KindSymlink {
		return nil, syscall.EINVAL
	}
	if n.node.Symlink == "" {
		return nil, syscall.ENOLINK
	}
	return []byte(n.node.Symlink), 0
}

func (n *fsNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if n.node.Kind != tree.KindRegular {
		return nil, 0, syscall.EISDIR
	}
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EACCES
	}
	if n.node.IndexWithinArchive < 0 {
		return nil, 0, syscall.EIO
	}

	r := n.eng.ReaderCache.Acquire(n.node.IndexWithinArchive)
	if r == nil {
		n.eng.Logger.Error("failed to acquire reader", "pathname", redactPath(n.eng, n.node))
		return nil, 0, syscall.EIO
	}
	return &fileHandle{r: r, eng: n.eng, node: n.node}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *fsNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh, ok := f.(*fileHandle)
	if !ok {
		return nil, syscall.EIO
	}
	return fh.Read(dest, off)
}

func (n *fsNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = tree.DirectoryBlockSize
	out.Frsize = tree.DirectoryBlockSize
	out.Blocks = uint64(n.eng.Tree.BlockCount())
	out.Bfree = 0
	out.Bavail = 0
	out.Files = uint64(n.eng.Tree.NodeCount())
	out.Ffree = 0
	out.NameLen = 255
	return 0
}

func redactPath(eng *engine.Engine, n *tree.Node) string {
	if eng.Config.Redact {
		return "(redacted)"
	}
	return n.Path()
}

// fileHandle owns one Reader for the lifetime of one open() call,
// per spec §4.6: acquired on open, swapped or advanced on read,
// released back into the cache on release.
type fileHandle struct {
	r    *reader.Reader
	eng  *engine.Engine
	node *tree.Node
}

var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (fh *fileHandle) Read(dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off < 0 {
		return nil, syscall.EINVAL
	}
	size := int64(entrySize(fh.node))
	if off >= size {
		return fuse.ReadResultData(dest[:0]), 0
	}
	length := int64(len(dest))
	if off+length > size {
		length = size - off
	}
	if length == 0 {
		return fuse.ReadResultData(dest[:0]), 0
	}
	dest = dest[:length]

	if fh.eng.SideBuffers.Lookup(fh.node.IndexWithinArchive, off, int(length), dest) {
		return fuse.ReadResultData(dest), 0
	}

	if off < fh.r.Offset() {
		replacement := fh.eng.ReaderCache.Acquire(fh.node.IndexWithinArchive)
		if replacement == nil {
			fh.eng.Logger.Error("failed to acquire replacement reader", "pathname", redactPath(fh.eng, fh.node))
			return nil, syscall.EIO
		}
		reader.Swap(fh.r, replacement)
		fh.eng.ReaderCache.Release(replacement)
	}

	pathname := redactPath(fh.eng, fh.node)
	if err := fh.r.AdvanceOffset(off, pathname); err != nil {
		fh.eng.Logger.Error("advancing reader offset", "pathname", pathname, "error", err)
		return nil, syscall.EIO
	}

	n, err := fh.r.Read(dest)
	if err != nil && n == 0 {
		fh.eng.Logger.Error("reading entry content", "pathname", pathname, "error", err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	fh.eng.ReaderCache.Release(fh.r)
	return 0
}

// sliceDirStream implements gofuse.DirStream from a pre-built slice,
// the same minimal adapter go-fuse filesystems commonly reach for
// when the full entry list is already in memory.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool { return s.index < len(s.entries) }

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
