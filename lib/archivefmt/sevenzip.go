package archivefmt

import (
	"fmt"
	"io"
	"os"

	"github.com/javi11/sevenzip"
)

// sevenZipOpener enumerates a 7z archive's file list in order and opens
// each entry's own decompressing io.ReadCloser on demand, mirroring
// zipOpener: the format supports random access internally, but Provider
// stays forward-only for the same reason — one shared discipline across
// every archive family upstream.
type sevenZipOpener struct {
	path string
}

func (o *sevenZipOpener) Open(passphrase string) (Provider, error) {
	f, err := os.Open(o.path)
	if err != nil {
		return nil, fmt.Errorf("opening 7z %s: %w", o.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("statting 7z %s: %w", o.path, err)
	}

	var r *sevenzip.Reader
	if passphrase != "" {
		r, err = sevenzip.NewReaderWithPassword(f, info.Size(), passphrase)
	} else {
		r, err = sevenzip.NewReader(f, info.Size())
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening 7z %s: %w", o.path, err)
	}

	return &sevenZipProvider{file: f, files: r.File, index: 0}, nil
}

type sevenZipProvider struct {
	file  *os.File
	files []*sevenzip.File

	index   int
	current io.ReadCloser
}

func (p *sevenZipProvider) Next() (*Entry, error) {
	if p.current != nil {
		p.current.Close()
		p.current = nil
	}

	for p.index < len(p.files) {
		f := p.files[p.index]
		p.index++
		fi := f.FileInfo()

		if fi.IsDir() {
			return &Entry{
				Name:      f.Name,
				IsDir:     true,
				Mode:      fi.Mode().Perm() | os.ModeDir,
				ModTime:   fi.ModTime(),
				SizeKnown: true,
			}, nil
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("reading symlink target for %q: %w", f.Name, err)
			}
			target, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("reading symlink target for %q: %w", f.Name, err)
			}
			return &Entry{
				Name:       f.Name,
				IsSymlink:  true,
				LinkTarget: string(target),
				Mode:       fi.Mode().Perm(),
				ModTime:    fi.ModTime(),
				SizeKnown:  true,
			}, nil
		}

		rc, err := f.Open()
		if err != nil {
			// javi11/sevenzip surfaces a distinct error for
			// password-protected entries it was not given a
			// passphrase for — let that string flow upward
			// untouched so spec §6.4's classification table can
			// match on it.
			return nil, fmt.Errorf("opening 7z entry %q: %w", f.Name, err)
		}
		p.current = rc

		return &Entry{
			Name:      f.Name,
			Mode:      fi.Mode().Perm(),
			ModTime:   fi.ModTime(),
			Size:      fi.Size(),
			SizeKnown: true,
		}, nil
	}

	return nil, io.EOF
}

// Progress reports entries enumerated so far against the archive's
// total entry count, the same convention zipProvider uses.
func (p *sevenZipProvider) Progress() (consumed, total int64) {
	return int64(p.index), int64(len(p.files))
}

func (p *sevenZipProvider) Read(dst []byte) (int, error) {
	if p.current == nil {
		return 0, io.EOF
	}
	return p.current.Read(dst)
}

func (p *sevenZipProvider) Close() error {
	if p.current != nil {
		p.current.Close()
	}
	return p.file.Close()
}
