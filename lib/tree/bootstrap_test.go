package tree

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/archivemount/archivemount/lib/archivefmt"
	"github.com/archivemount/archivemount/lib/passphrase"
	"github.com/archivemount/archivemount/lib/sidebuffer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEntry is one header/content pair a fakeProvider iterates over.
type fakeEntry struct {
	name      string
	isDir     bool
	content   []byte
	sizeKnown bool
}

// fakeProvider implements archivefmt.Provider over an in-memory list
// of entries, to exercise bootstrap's Phase A/B logic without a real
// archive file or decompression library.
type fakeProvider struct {
	entries []fakeEntry
	index   int
	body    *bytes.Reader
}

func newFakeProvider(entries []fakeEntry) *fakeProvider {
	return &fakeProvider{entries: entries, index: -1}
}

func (p *fakeProvider) Next() (*archivefmt.Entry, error) {
	p.index++
	if p.index >= len(p.entries) {
		return nil, io.EOF
	}
	e := p.entries[p.index]
	p.body = bytes.NewReader(e.content)
	return &archivefmt.Entry{
		Name:      e.name,
		IsDir:     e.isDir,
		Size:      int64(len(e.content)),
		SizeKnown: e.sizeKnown,
		Mode:      0o644,
	}, nil
}

func (p *fakeProvider) Read(dst []byte) (int, error) {
	if p.body == nil {
		return 0, io.EOF
	}
	return p.body.Read(dst)
}

func (p *fakeProvider) Close() error { return nil }

// fakeOpener hands out a fresh fakeProvider (or a canned failure) per
// archivefmt.Opener.Open call.
type fakeOpener struct {
	entries      []fakeEntry
	failFirst    error // if set, the first Open(passphrase="") fails with this
	correctPass  string
	opensOnRetry int
}

func (o *fakeOpener) Open(pass string) (archivefmt.Provider, error) {
	if o.failFirst != nil && pass == "" {
		return nil, o.failFirst
	}
	if o.correctPass != "" && pass != o.correctPass {
		return nil, o.failFirst
	}
	o.opensOnRetry++
	return newFakeProvider(o.entries), nil
}

// buildWithOpener runs Phase A/B directly against a fake opener,
// bypassing ProbeArchive's format-detection step (which needs a real
// file with real magic bytes) — detection itself is exercised
// separately in format_test.go-equivalent coverage within archivefmt.
func buildWithOpener(t *testing.T, opener archivefmt.Opener, prompter *passphrase.Prompter) (*Result, error) {
	t.Helper()
	pool := sidebuffer.New(sidebuffer.DefaultCount, sidebuffer.DefaultLength)

	pass, provider, err := openWithPassphraseRetry(opener, prompter)
	if err != nil {
		return nil, err
	}

	probe := &Probe{
		Opener:     opener,
		Passphrase: pass,
		provider:   provider,
		firstIndex: -1,
	}

	index := -1
	for {
		entry, err := provider.Next()
		if err == io.EOF {
			probe.firstIndex = -1
			break
		}
		if err != nil {
			provider.Close()
			return nil, err
		}
		index++
		if entry.IsDir {
			continue
		}
		probe.firstEntry = entry
		probe.firstIndex = index
		one := make([]byte, 1)
		n, _ := provider.Read(one)
		probe.firstProbedByte = int64(n)
		break
	}

	return BuildTree(Bootstrap{Logger: discardLogger(), Pool: pool}, probe)
}

func TestBootstrapEmptyArchiveYieldsRootOnly(t *testing.T) {
	opener := &fakeOpener{entries: nil}
	result, err := buildWithOpener(t, opener, nil)
	if err != nil {
		t.Fatalf("buildWithOpener: %v", err)
	}
	if result.Tree.NodeCount() != 1 {
		t.Fatalf("NodeCount() = %d, want 1 (root only)", result.Tree.NodeCount())
	}
}

func TestBootstrapInsertsFilesAndSkipsDirectoryEntries(t *testing.T) {
	opener := &fakeOpener{entries: []fakeEntry{
		{name: "dir/", isDir: true},
		{name: "dir/file.txt", content: []byte("hello"), sizeKnown: true},
		{name: "top.txt", content: []byte("world"), sizeKnown: true},
	}}
	result, err := buildWithOpener(t, opener, nil)
	if err != nil {
		t.Fatalf("buildWithOpener: %v", err)
	}

	leaf := result.Tree.Lookup("/dir/file.txt")
	if leaf == nil {
		t.Fatal("/dir/file.txt not found")
	}
	if leaf.Size != 5 {
		t.Fatalf("Size = %d, want 5", leaf.Size)
	}

	top := result.Tree.Lookup("/top.txt")
	if top == nil {
		t.Fatal("/top.txt not found")
	}
	// The implicit directory entry itself should never appear as its
	// own node beyond what InsertLeaf synthesizes for /dir.
	dir := result.Tree.Lookup("/dir")
	if dir == nil || !dir.IsDir() {
		t.Fatal("/dir was not synthesized as a directory")
	}
}

func TestBootstrapMeasuresUnknownSizeIncludingProbedByte(t *testing.T) {
	content := []byte("0123456789") // 10 bytes, size reported unknown
	opener := &fakeOpener{entries: []fakeEntry{
		{name: "stream.bin", content: content, sizeKnown: false},
	}}
	result, err := buildWithOpener(t, opener, nil)
	if err != nil {
		t.Fatalf("buildWithOpener: %v", err)
	}

	leaf := result.Tree.Lookup("/stream.bin")
	if leaf == nil {
		t.Fatal("/stream.bin not found")
	}
	if leaf.Size != int64(len(content)) {
		t.Fatalf("Size = %d, want %d (probe byte must be included in the drained total)", leaf.Size, len(content))
	}
}

func TestBootstrapSkipsSymlinkWithEmptyTarget(t *testing.T) {
	// insertEntry's symlink-empty-target guard is exercised through
	// NormalizePath + the entry's LinkTarget field; build a fake entry
	// whose archivefmt.Entry reports IsSymlink but has no helper to set
	// LinkTarget in fakeEntry, so construct it via a provider wrapper.
	opener := &symlinkOpener{}
	result, err := buildWithOpener(t, opener, nil)
	if err != nil {
		t.Fatalf("buildWithOpener: %v", err)
	}
	if result.Tree.NodeCount() != 1 {
		t.Fatalf("NodeCount() = %d, want 1 (root only, malformed symlink skipped)", result.Tree.NodeCount())
	}
}

type symlinkOpener struct{}

func (o *symlinkOpener) Open(string) (archivefmt.Provider, error) {
	return &symlinkProvider{}, nil
}

type symlinkProvider struct{ done bool }

func (p *symlinkProvider) Next() (*archivefmt.Entry, error) {
	if p.done {
		return nil, io.EOF
	}
	p.done = true
	return &archivefmt.Entry{Name: "broken-link", IsSymlink: true, LinkTarget: "", SizeKnown: true}, nil
}
func (p *symlinkProvider) Read(dst []byte) (int, error) { return 0, io.EOF }
func (p *symlinkProvider) Close() error                 { return nil }

func TestOpenWithPassphraseRetryFailsImmediatelyWithNoPrompter(t *testing.T) {
	opener := &fakeOpener{
		entries:     []fakeEntry{{name: "a", content: []byte("a"), sizeKnown: true}},
		failFirst:   errPassphraseRequired{},
		correctPass: "secret",
	}
	// A nil prompter means Open is tried exactly once with no
	// passphrase; a passphrase-protected archive must fail rather than
	// block waiting for input that will never come.
	_, _, err := openWithPassphraseRetry(opener, nil)
	if err == nil {
		t.Fatal("openWithPassphraseRetry with nil prompter should fail on a passphrase-protected archive")
	}
}

type errPassphraseRequired struct{}

func (errPassphraseRequired) Error() string { return "Passphrase required for entry a" }
