package archivefmt

import (
	"fmt"
	"os"

	"github.com/javi11/rardecode/v2"
)

// rarOpener drives github.com/javi11/rardecode/v2, whose Reader is
// itself a forward-only sequential header/stream iterator — matching
// spec §6.2 directly, the same way archive/tar does for tar.
type rarOpener struct {
	path string
}

func (o *rarOpener) Open(passphrase string) (Provider, error) {
	var opts []rardecode.Option
	if passphrase != "" {
		opts = append(opts, rardecode.Password(passphrase))
	}
	r, err := rardecode.OpenReader(o.path, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening rar %s: %w", o.path, err)
	}
	return &rarProvider{r: r}, nil
}

type rarProvider struct {
	r *rardecode.ReadCloser
}

func (p *rarProvider) Next() (*Entry, error) {
	for {
		hdr, err := p.r.Next()
		if err != nil {
			return nil, err
		}

		if hdr.IsDir {
			return &Entry{
				Name:      hdr.Name,
				IsDir:     true,
				Mode:      0o755 | os.ModeDir,
				ModTime:   hdr.ModificationTime,
				SizeKnown: true,
			}, nil
		}

		// rardecode/v2 reports symlinks through a redirection field
		// (RedirType/RedirName) rather than a LinkName field — RedirType
		// is zero for an ordinary file entry.
		if hdr.RedirType != 0 && hdr.RedirName != "" {
			return &Entry{
				Name:       hdr.Name,
				IsSymlink:  true,
				LinkTarget: hdr.RedirName,
				Mode:       0o777,
				ModTime:    hdr.ModificationTime,
				SizeKnown:  true,
			}, nil
		}

		return &Entry{
			Name:      hdr.Name,
			Mode:      0o644,
			ModTime:   hdr.ModificationTime,
			Size:      hdr.UnPackedSize,
			SizeKnown: !hdr.UnKnownSize,
		}, nil
	}
}

func (p *rarProvider) Read(dst []byte) (int, error) {
	return p.r.Read(dst)
}

func (p *rarProvider) Close() error {
	return p.r.Close()
}
