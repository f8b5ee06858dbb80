// Package reader implements the per-stream decompression cursor of
// spec §4.3 (Reader) and its fixed-size LRU cache of spec §4.4,
// sitting directly on top of lib/archivefmt's forward-only Provider
// and lib/sidebuffer's fixed buffer pool.
package reader

import (
	"fmt"
	"io"

	"github.com/archivemount/archivemount/lib/archivefmt"
	"github.com/archivemount/archivemount/lib/sidebuffer"
)

// Reader encapsulates one independent decompression stream together
// with the header index and byte offset it is currently positioned
// at. Readers are never shared between concurrent callers — the cache
// in this package hands out exclusive ownership via acquire/release.
type Reader struct {
	provider   archivefmt.Provider
	entry      *archivefmt.Entry
	passphrase string

	// index is the archive ordinal of the header Provider.Next most
	// recently returned; -1 before the first advance_index call.
	index int

	// offset is the decompressed byte position reached within the
	// current entry.
	offset int64

	pool *sidebuffer.Pool
}

// New wraps a freshly opened Provider as a Reader positioned before
// the first header (index -1, offset 0).
func New(provider archivefmt.Provider, passphrase string, pool *sidebuffer.Pool) *Reader {
	return &Reader{provider: provider, passphrase: passphrase, index: -1, pool: pool}
}

// Index reports the archive ordinal the Reader is currently positioned
// at.
func (r *Reader) Index() int { return r.index }

// Offset reports the decompressed byte offset reached within the
// current entry.
func (r *Reader) Offset() int64 { return r.offset }

// Close releases the underlying Provider's resources (open file
// handle, decompression state).
func (r *Reader) Close() error {
	return r.provider.Close()
}

// AdvanceIndex reads headers forward until index == target, per spec
// §4.3. The caller promises target is a valid ordinal that bootstrap
// already observed — reaching end-of-archive before getting there is
// "inconsistent archive", a fatal condition rather than a normal
// end-of-stream.
func (r *Reader) AdvanceIndex(target int) error {
	for r.index < target {
		entry, err := r.provider.Next()
		if err == io.EOF {
			return fmt.Errorf("inconsistent archive: reached end-of-archive advancing to entry %d from %d", target, r.index)
		}
		if err != nil {
			return fmt.Errorf("advancing to entry %d: %w", target, err)
		}
		r.index++
		r.offset = 0
		r.entry = entry
	}
	return nil
}

// AdvanceOffset decompresses and discards bytes until offset == target
// within the current entry, per spec §4.3. Precondition: target >=
// offset — callers guarantee this via cache selection or by starting a
// fresh Reader; a backward target fails deterministically rather than
// silently doing nothing useful.
//
// Chunking policy: when the remaining distance exceeds the side
// buffer's length L, the first fill reads the non-multiple remainder
// so that the final fill lands exactly L bytes and aligned with
// target — maximizing the odds that buffer also serves the next read.
func (r *Reader) AdvanceOffset(target int64, pathname string) error {
	if target < r.offset {
		return fmt.Errorf("advancing offset backward for %q: at %d, requested %d", pathname, r.offset, target)
	}
	if target == r.offset {
		return nil
	}

	L := int64(r.pool.Length())
	remaining := target - r.offset

	first := remaining % L
	if first == 0 {
		first = L
	}
	if first > remaining {
		first = remaining
	}

	for remaining > 0 {
		chunk := first
		first = L // every fill after the first is a full L, per policy
		if chunk > remaining {
			chunk = remaining
		}

		slotIndex, buf := r.pool.Acquire()
		n, err := io.ReadFull(r.provider, buf[:chunk])
		if err != nil {
			// Leave the slot marked empty (Acquire already did that);
			// nothing further to undo.
			return fmt.Errorf("discarding %d bytes at offset %d of %q: %w", chunk, r.offset, pathname, err)
		}
		fillOffset := r.offset
		r.offset += int64(n)
		remaining -= int64(n)
		r.pool.Fill(slotIndex, r.index, fillOffset, n)
	}

	return nil
}

// Read requests up to len(dst) decompressed bytes from the underlying
// library. Per spec §4.3, a library that returns more bytes than
// requested indicates corruption in the decompression stack itself
// rather than a recoverable I/O condition, so that case aborts the
// process instead of returning an error.
func (r *Reader) Read(dst []byte) (int, error) {
	n, err := r.provider.Read(dst)
	if n > len(dst) {
		panic(fmt.Sprintf("reader: library returned %d bytes for a %d-byte request", n, len(dst)))
	}
	r.offset += int64(n)
	return n, err
}

// Swap exchanges two Readers field-for-field. The read path uses this
// to install a freshly positioned Reader's state into an
// already-handed-out file-handle Reader without changing the handle's
// identity (spec §4.3).
func Swap(a, b *Reader) {
	*a, *b = *b, *a
}
