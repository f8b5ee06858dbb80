package tree

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/archivemount/archivemount/lib/archivefmt"
	"github.com/archivemount/archivemount/lib/cliexit"
	"github.com/archivemount/archivemount/lib/passphrase"
	"github.com/archivemount/archivemount/lib/sidebuffer"
)

// rawDefaultEntryName is the placeholder name libarchive-derived
// tooling historically reports for a raw single-stream entry — spec
// §4.5 "if the library reports the default name data".
const rawDefaultEntryName = "data"

// Bootstrap runs the two-phase scan of spec §4.5 and returns the
// frozen tree, ready for the read path. ArchivePath need not be
// canonical; Bootstrap canonicalizes it itself (Phase A step 1) so
// the read path's later error messages are stable across a
// daemonizing process that changes its working directory.
type Bootstrap struct {
	ArchivePath string
	Logger      *slog.Logger
	Pool        *sidebuffer.Pool
	Progress    *ProgressReporter
	Prompter    *passphrase.Prompter
}

// Result is everything Bootstrap hands back to the engine.
type Result struct {
	Tree       *Tree
	Opener     archivefmt.Opener
	Passphrase string
	Family     archivefmt.Family
}

// Run executes Phase A (probe) followed immediately by Phase B
// (build), with no pause between them. A caller that needs to do
// other setup between the phases calls ProbeArchive and BuildTree
// itself instead of Run.
func Run(b Bootstrap) (*Result, error) {
	probe, err := ProbeArchive(b)
	if err != nil {
		return nil, err
	}
	return BuildTree(b, probe)
}

// Probe is Phase A's output: everything Phase B needs to resume
// header iteration exactly where probing left off.
type Probe struct {
	CanonicalPath string
	Family        archivefmt.Family
	Codec         archivefmt.RawCodec
	Opener        archivefmt.Opener
	Passphrase    string

	provider        archivefmt.Provider
	firstEntry      *archivefmt.Entry
	firstIndex      int
	firstProbedByte int64 // bytes of firstEntry already consumed by the probe read
}

// ProbeArchive runs Phase A: canonicalize, detect format, open the
// library, skip directory entries until the first regular/symlink
// entry (or end-of-archive), validate raw-archive filter chains, and
// confirm at least one byte of that first entry (raw or structured)
// decompresses successfully — classifying any failure into the
// passphrase/corruption exit codes of spec §6.4.
func ProbeArchive(b Bootstrap) (*Probe, error) {
	canonical, err := filepath.Abs(b.ArchivePath)
	if err != nil {
		return nil, cliexit.Wrap(cliexit.CodeCannotOpenArchive, "resolving archive path", err)
	}
	canonical, err = filepath.EvalSymlinks(canonical)
	if err != nil {
		return nil, cliexit.Wrap(cliexit.CodeCannotOpenArchive, "resolving archive path", err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return nil, cliexit.Wrap(cliexit.CodeCannotOpenArchive, "statting archive", err)
	}
	if info.IsDir() {
		return nil, cliexit.New(cliexit.CodeCannotOpenArchive, "archive path is a directory")
	}

	family, codec, err := archivefmt.Detect(canonical)
	if err != nil {
		return nil, cliexit.Wrap(cliexit.CodeCannotOpenArchive, "detecting archive format", err)
	}

	stem := archivefmt.StripArchiveExtension(filepath.Base(canonical))
	opener, err := archivefmt.NewOpener(family, codec, canonical, stem)
	if err != nil {
		return nil, cliexit.Wrap(cliexit.CodeInvalidRawArchive, "invalid raw archive", err)
	}

	pass, provider, err := openWithPassphraseRetry(opener, b.Prompter)
	if err != nil {
		return nil, classifyHeaderFailure(err)
	}

	probe := &Probe{
		CanonicalPath: canonical,
		Family:        family,
		Codec:         codec,
		Opener:        opener,
		Passphrase:    pass,
		provider:      provider,
		firstIndex:    -1,
	}

	index := -1
	for {
		entry, err := provider.Next()
		if err == io.EOF {
			// Empty archive (or directories-only): legal, spec §4.5
			// Phase A step 3. Leave firstEntry nil; Phase B inserts
			// nothing and the tree keeps only its root.
			probe.firstIndex = -1
			return probe, nil
		}
		if err != nil {
			provider.Close()
			return nil, classifyHeaderFailure(err)
		}
		index++
		if entry.IsDir {
			continue
		}

		if b.Progress != nil {
			if reporter, ok := provider.(archivefmt.ProgressReporter); ok {
				consumed, total := reporter.Progress()
				b.Progress.Report(consumed, total)
			}
		}

		probe.firstEntry = entry
		probe.firstIndex = index
		break
	}

	if family == archivefmt.FamilyRaw && codec == archivefmt.RawCodecNone {
		provider.Close()
		return nil, cliexit.New(cliexit.CodeInvalidRawArchive, "invalid raw archive: no recognized decompression filter")
	}

	if probe.firstEntry != nil {
		one := make([]byte, 1)
		n, err := provider.Read(one)
		probe.firstProbedByte = int64(n)
		if err != nil && err != io.EOF {
			provider.Close()
			return nil, classifyContentFailure(err)
		}
	}

	return probe, nil
}

// openWithPassphraseRetry implements spec §6.3's acquisition loop
// layered over Opener.Open: try with no passphrase first (matching
// the majority of archives, which are not encrypted), and only prompt
// if the library's first failure looks passphrase-shaped. A prompter
// of nil means never prompt (e.g., stdin is not available) — Open is
// tried exactly once with an empty passphrase.
func openWithPassphraseRetry(opener archivefmt.Opener, prompter *passphrase.Prompter) (string, archivefmt.Provider, error) {
	provider, err := opener.Open("")
	if err == nil {
		return "", provider, nil
	}
	if prompter == nil {
		return "", nil, err
	}
	switch passphrase.Classify(err) {
	case passphrase.OutcomeRequired, passphrase.OutcomeIncorrect:
	default:
		return "", nil, err
	}

	pass := prompter.Acquire()
	provider, err = opener.Open(pass)
	if err != nil {
		return "", nil, err
	}
	return pass, provider, nil
}

// classifyHeaderFailure maps a decompression-library error encountered
// before any entry header has been successfully parsed to the exit
// code taxonomy of spec §6.4/§6.6. A library that refuses to open the
// file at all, or chokes on the very first header, means the file does
// not actually look like the format Detect guessed — spec §6.6's
// "invalid header" code, not a generic open failure or a deeper
// content-corruption failure.
func classifyHeaderFailure(err error) error {
	switch passphrase.Classify(err) {
	case passphrase.OutcomeRequired:
		return cliexit.Wrap(cliexit.CodePassphraseRequired, "passphrase required", err)
	case passphrase.OutcomeIncorrect:
		return cliexit.Wrap(cliexit.CodePassphraseIncorrect, "incorrect passphrase", err)
	case passphrase.OutcomeUnsupportedEncryption:
		return cliexit.Wrap(cliexit.CodeUnsupportedEncryption, "unsupported encryption", err)
	default:
		return cliexit.Wrap(cliexit.CodeInvalidHeader, "invalid archive header", err)
	}
}

// classifyContentFailure maps a decompression-library error
// encountered while streaming an entry whose header already parsed
// successfully. The container format is confirmed valid at this point,
// so a failure here means corrupt contents, not a bad header.
func classifyContentFailure(err error) error {
	switch passphrase.Classify(err) {
	case passphrase.OutcomeRequired:
		return cliexit.Wrap(cliexit.CodePassphraseRequired, "passphrase required", err)
	case passphrase.OutcomeIncorrect:
		return cliexit.Wrap(cliexit.CodePassphraseIncorrect, "incorrect passphrase", err)
	case passphrase.OutcomeUnsupportedEncryption:
		return cliexit.Wrap(cliexit.CodeUnsupportedEncryption, "unsupported encryption", err)
	default:
		return cliexit.Wrap(cliexit.CodeInvalidContents, "invalid archive contents", err)
	}
}

// BuildTree runs Phase B over an already-probed archive: insert the
// entry Phase A already read, then iterate the rest of the headers,
// normalizing pathnames and inserting leaves, skipping anything
// malformed per spec §4.5's per-entry error policy. The tree is
// frozen before return (invariant I1).
func BuildTree(b Bootstrap, probe *Probe) (*Result, error) {
	t := New()
	provider := probe.provider
	defer provider.Close()

	if probe.firstEntry != nil {
		insertEntry(t, b.Logger, probe.firstIndex, probe.firstEntry, provider, probe.CanonicalPath, b.Pool, probe.firstProbedByte)
	}

	index := probe.firstIndex
	for {
		entry, err := provider.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cliexit.Wrap(cliexit.CodeInvalidContents, "reading archive headers", err)
		}
		index++

		if b.Progress != nil {
			if reporter, ok := provider.(archivefmt.ProgressReporter); ok {
				consumed, total := reporter.Progress()
				b.Progress.Report(consumed, total)
			}
		}

		if entry.IsDir {
			continue
		}
		insertEntry(t, b.Logger, index, entry, provider, probe.CanonicalPath, b.Pool, 0)
	}

	if b.Progress != nil {
		b.Progress.Done()
	}

	t.Freeze()
	return &Result{Tree: t, Opener: probe.Opener, Passphrase: probe.Passphrase, Family: probe.Family}, nil
}

// insertEntry normalizes one archive entry's pathname and inserts it
// into the tree, logging and skipping per spec §4.5's per-entry error
// policy rather than aborting the whole bootstrap pass.
func insertEntry(t *Tree, logger *slog.Logger, index int, entry *archivefmt.Entry, provider archivefmt.Provider, archivePath string, pool *sidebuffer.Pool, alreadyConsumed int64) {
	name := entry.Name
	if name == rawDefaultEntryName {
		name = archivefmt.StripArchiveExtension(filepath.Base(archivePath))
	}

	absPath, err := NormalizePath(name)
	if err != nil {
		logger.Warn("skipping entry with invalid pathname", "index", index, "pathname", name, "error", err)
		return
	}

	var kind EntryKind
	switch {
	case entry.IsSymlink:
		if entry.LinkTarget == "" {
			logger.Warn("skipping symlink with empty target", "index", index, "pathname", absPath)
			return
		}
		kind = KindSymlink
	default:
		kind = KindRegular
	}

	size := entry.Size
	if !entry.SizeKnown {
		drained, err := drainToMeasureSize(provider, pool)
		if err != nil {
			logger.Warn("skipping entry: failed to measure unknown size", "index", index, "pathname", absPath, "error", err)
			return
		}
		size = alreadyConsumed + drained
	}

	mtime := entry.ModTime
	if mtime.IsZero() {
		mtime = time.Unix(0, 0)
	}

	err = t.InsertLeaf(LeafSpec{
		AbsPath:            absPath,
		Kind:               kind,
		Symlink:            entry.LinkTarget,
		IndexWithinArchive: index,
		Size:               size,
		Mtime:              mtime,
		// A leaf's mode only ever carries read and execute bits on this
		// read-only mount, matching the original's rx_bits = mode &
		// 0555 (spec §3); write bits from the archive's own permission
		// metadata never surface.
		Mode: entry.Mode & 0o555,
	})
	if err != nil {
		logger.Warn("skipping entry", "index", index, "pathname", absPath, "error", err)
	}
}

// drainToMeasureSize streams an entry's full content into the
// bootstrap scratch side buffer, counting bytes until end-of-entry,
// to fix an entry's unknown size (a raw stream, or a rar entry flagged
// unknown-size) before InsertLeaf (spec §4.5
// "If the archive entry reports size unknown").
func drainToMeasureSize(provider archivefmt.Provider, pool *sidebuffer.Pool) (int64, error) {
	scratch := pool.BufferAt(sidebuffer.BootstrapScratchBuffer)
	var total int64
	for {
		n, err := provider.Read(scratch)
		total += int64(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return total, nil
		}
	}
}
