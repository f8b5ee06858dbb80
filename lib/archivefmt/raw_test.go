package archivefmt

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeGzipFile(t *testing.T, content []byte) string {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(content); err != nil {
		t.Fatalf("gzip Write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip Close: %v", err)
	}
	path := filepath.Join(t.TempDir(), "stream.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRawProviderDeliversSingleEntryThenEOF(t *testing.T) {
	path := writeGzipFile(t, []byte("hello world"))
	opener := &rawOpener{path: path, codec: RawCodecGzip, name: "stream"}

	provider, err := opener.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer provider.Close()

	entry, err := provider.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if entry.Name != "stream" || entry.SizeKnown {
		t.Fatalf("entry = %+v, want name=stream, SizeKnown=false", entry)
	}

	content, err := io.ReadAll(provider)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(content) != "hello world" {
		t.Fatalf("content = %q, want %q", content, "hello world")
	}

	if _, err := provider.Next(); err != io.EOF {
		t.Fatalf("second Next() = %v, want io.EOF", err)
	}
	if _, err := provider.Next(); err != io.EOF {
		t.Fatalf("third Next() = %v, want io.EOF (repeatable)", err)
	}
}

func TestRawProviderProgressTracksCompressedFileOffset(t *testing.T) {
	// Poorly compressible content well past the 128 KiB read buffer, so
	// the file offset after Open is short of the end and has to move.
	content := make([]byte, 512*1024)
	var x uint32 = 1
	for i := range content {
		x = x*1664525 + 1013904223
		content[i] = byte(x >> 24)
	}
	path := writeGzipFile(t, content)
	opener := &rawOpener{path: path, codec: RawCodecGzip, name: "stream"}

	provider, err := opener.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer provider.Close()

	reporter := provider.(ProgressReporter)
	startConsumed, total := reporter.Progress()
	if total == 0 {
		t.Fatal("total should reflect the compressed file's size")
	}

	provider.Next()
	io.ReadAll(provider)

	endConsumed, _ := reporter.Progress()
	if endConsumed <= startConsumed {
		t.Fatalf("consumed did not advance: start=%d end=%d", startConsumed, endConsumed)
	}
}

func TestRawProviderCloseHandlesGzipReaderExplicitly(t *testing.T) {
	path := writeGzipFile(t, []byte("data"))
	opener := &rawOpener{path: path, codec: RawCodecGzip, name: "stream"}

	provider, err := opener.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := provider.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRawOpenerRejectsUnrecognizedCodec(t *testing.T) {
	path := writeGzipFile(t, []byte("data"))
	opener := &rawOpener{path: path, codec: RawCodecNone, name: "stream"}
	if _, err := opener.Open(""); err == nil {
		t.Fatal("Open with RawCodecNone should fail")
	}
}
