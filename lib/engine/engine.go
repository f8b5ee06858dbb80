// Package engine bundles the tree, reader cache, and side-buffer pool
// built by bootstrap into the single value the read path is built
// around — spec §9's "Singleton global state" design note, applied:
// no process-wide globals, one Engine constructed once at startup and
// passed by reference to every FUSE callback.
package engine

import (
	"log/slog"
	"os"

	"github.com/archivemount/archivemount/lib/archivefmt"
	"github.com/archivemount/archivemount/lib/reader"
	"github.com/archivemount/archivemount/lib/sidebuffer"
	"github.com/archivemount/archivemount/lib/tree"
)

// Config carries the subset of CLI flags the read path consults at
// request time (as opposed to ones only bootstrap needs).
type Config struct {
	// UID/GID are reported for every node's stat. archivemount's main
	// sets them from DefaultUIDGID; no mount option overrides them.
	UID uint32
	GID uint32

	Redact bool
}

// Engine is the frozen result of bootstrap plus the mutable caches
// the read path draws on. Tree is immutable after construction
// (tree.Tree.Freeze); ReaderCache and SideBuffers carry their own
// internal locking, so Engine itself needs no mutex — per spec §5,
// fine-grained per-pool locking is how this implementation relaxes
// the original's single-threaded discipline.
type Engine struct {
	Tree          *tree.Tree
	ReaderCache   *reader.Cache
	SideBuffers   *sidebuffer.Pool
	ArchivePath   string
	ArchiveFamily archivefmt.Family
	Config        Config
	Logger        *slog.Logger
}

// New wraps a bootstrap result and pool into a ready-to-serve Engine.
func New(result *tree.Result, pool *sidebuffer.Pool, archivePath string, readerCacheSize int, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		Tree:          result.Tree,
		ReaderCache:   reader.New(result.Opener, result.Passphrase, pool, readerCacheSize),
		SideBuffers:   pool,
		ArchivePath:   archivePath,
		ArchiveFamily: result.Family,
		Config:        cfg,
		Logger:        logger,
	}
}

// DefaultUIDGID captures the process's uid/gid at startup, the value
// archivemount's main uses for Config.UID/GID.
func DefaultUIDGID() (uid, gid uint32) {
	return uint32(os.Getuid()), uint32(os.Getgid())
}
