package archivefmt

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// rawOpener wraps a single forward-only decompression filter over the
// whole archive file, synthesizing one Entry named by the archive
// filename's stem (GLOSSARY "Innername") — spec §4.5 Phase A step 4/5.
// There is exactly one entry and its size is unknown until fully
// drained.
type rawOpener struct {
	path  string
	codec RawCodec
	name  string
}

func (o *rawOpener) Open(passphrase string) (Provider, error) {
	f, err := os.Open(o.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", o.path, err)
	}

	var r io.Reader
	buffered := bufio.NewReaderSize(f, 128*1024)

	switch o.codec {
	case RawCodecGzip:
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening gzip stream %s: %w", o.path, err)
		}
		r = gz
	case RawCodecBzip2:
		r = bzip2.NewReader(buffered)
	case RawCodecXz:
		xr, err := xz.NewReader(buffered)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening xz stream %s: %w", o.path, err)
		}
		r = xr
	case RawCodecZstd:
		zr, err := zstd.NewReader(buffered)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening zstd stream %s: %w", o.path, err)
		}
		r = zr
	case RawCodecLZ4:
		r = lz4.NewReader(buffered)
	default:
		f.Close()
		return nil, fmt.Errorf("invalid raw archive: unrecognized codec")
	}

	var total int64
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}

	return &rawProvider{file: f, r: r, name: o.name, total: total}, nil
}

type rawProvider struct {
	file  *os.File
	r     io.Reader
	name  string
	total int64

	delivered bool
}

// Progress reports the compressed-input file's current read position
// against its total size — the single entry's decompressed size is
// unknown until fully drained, so compressed-input progress is the
// only meaningful high-water mark available here.
func (p *rawProvider) Progress() (consumed, total int64) {
	pos, err := p.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, p.total
	}
	return pos, p.total
}

// Next reports the single synthetic entry exactly once; the second call
// returns io.EOF, matching every other Provider's "one past the last
// header" contract.
func (p *rawProvider) Next() (*Entry, error) {
	if p.delivered {
		return nil, io.EOF
	}
	p.delivered = true
	return &Entry{
		Name:      p.name,
		Mode:      0o644,
		SizeKnown: false,
	}, nil
}

func (p *rawProvider) Read(dst []byte) (int, error) {
	return p.r.Read(dst)
}

func (p *rawProvider) Close() error {
	// zstd.Decoder exposes Close() with no error return, so it cannot
	// satisfy io.Closer directly; gzip.Reader does, and the xz, bzip2
	// and lz4 readers have nothing to close. Handle each concrete type
	// explicitly rather than relying on a type assertion that silently
	// no-ops for zstd.
	switch closer := p.r.(type) {
	case *gzip.Reader:
		closer.Close()
	case *zstd.Decoder:
		closer.Close()
	}
	return p.file.Close()
}
