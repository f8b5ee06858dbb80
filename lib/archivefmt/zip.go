package archivefmt

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// zipOpener enumerates a zip.Reader's central directory in file order
// and opens each entry's own decompressing io.ReadCloser on demand.
// The underlying format supports random access, but the Provider
// contract deliberately stays forward-only so that every archive
// family shares one Reader/side-buffer/cache discipline upstream.
type zipOpener struct {
	path string
}

func (o *zipOpener) Open(passphrase string) (Provider, error) {
	rc, err := zip.OpenReader(o.path)
	if err != nil {
		return nil, fmt.Errorf("opening zip %s: %w", o.path, err)
	}
	return &zipProvider{rc: rc, passphrase: passphrase}, nil
}

type zipProvider struct {
	rc         *zip.ReadCloser
	passphrase string

	index   int
	current io.ReadCloser
}

// zipEncryptedFlag is bit 0 of the general-purpose bit flag field
// (APPNOTE.TXT §4.4.4), set when an entry's data is encrypted.
const zipEncryptedFlag = 0x1

func (p *zipProvider) Next() (*Entry, error) {
	if p.current != nil {
		p.current.Close()
		p.current = nil
	}

	for p.index < len(p.rc.File) {
		f := p.rc.File[p.index]
		p.index++

		if strings.HasSuffix(f.Name, "/") || f.Mode().IsDir() {
			return &Entry{
				Name:      strings.TrimSuffix(f.Name, "/"),
				IsDir:     true,
				Mode:      f.Mode().Perm() | os.ModeDir,
				ModTime:   f.Modified,
				SizeKnown: true,
			}, nil
		}

		if f.Flags&zipEncryptedFlag != 0 {
			// The standard library's zip reader cannot decrypt
			// legacy ZipCrypto or WinZip AES entries — there is no
			// decryption filter to register. Surface this through
			// the same passphrase-classification path as a real
			// library error so the engine exits with the
			// unsupported-encryption code (spec §6.4) instead of a
			// generic failure.
			return nil, fmt.Errorf("Encryption is not supported: zip entry %q is encrypted", f.Name)
		}

		if f.Mode()&os.ModeSymlink != 0 {
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
				Mode:       f.Mode().Perm(),
				ModTime:    f.Modified,
				SizeKnown:  true,
			}, nil
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening zip entry %q: %w", f.Name, err)
		}
		p.current = rc

		return &Entry{
			Name:      f.Name,
			Mode:      f.Mode().Perm(),
			ModTime:   f.Modified,
			Size:      int64(f.UncompressedSize64),
			SizeKnown: true,
		}, nil
	}

	return nil, io.EOF
}

// Progress reports entries enumerated so far against the archive's
// total entry count. zip's central directory makes the total known
// up front, unlike tar/raw where the archive's byte size stands in
// for "total work".
func (p *zipProvider) Progress() (consumed, total int64) {
	return int64(p.index), int64(len(p.rc.File))
}

func (p *zipProvider) Read(dst []byte) (int, error) {
	if p.current == nil {
		return 0, fs.ErrClosed
	}
	return p.current.Read(dst)
}

func (p *zipProvider) Close() error {
	if p.current != nil {
		p.current.Close()
	}
	return p.rc.Close()
}
