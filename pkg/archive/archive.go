// Package archive provides the tar handling the bundle engine relies on.
package archive

import (
	"archive/tar"
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/moby/patternmatcher"
	"github.com/pkg/errors"
)

// TarOptions controls archive creation.
type TarOptions struct {
	// ExcludePatterns filters paths out of the archive, using the same
	// pattern syntax as .gitignore-style matchers.
	ExcludePatterns []string
	// Compress gzips the stream.
	Compress bool
}

// Tar writes the tree rooted at srcDir to out as a tar stream. Paths
// inside the archive are relative to srcDir.
func Tar(srcDir string, out io.Writer, opts *TarOptions) error {
	if opts == nil {
		opts = &TarOptions{}
	}

	pm, err := patternmatcher.New(opts.ExcludePatterns)
	if err != nil {
		return errors.Wrap(err, "invalid exclude patterns")
	}

	w := out
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(out)
		w = gz
	}

	tw := tar.NewWriter(w)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matched, err := pm.MatchesOrParentMatches(rel); err != nil {
			return err
		} else if matched {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if gz != nil {
		return gz.Close()
	}
	return nil
}

// Untar extracts a (possibly gzipped) tar stream into destDir, refusing
// entries that would escape it.
func Untar(in io.Reader, destDir string) error {
	r, err := decompress(in)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "corrupt archive")
		}

		target, err := secureJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if strings.HasPrefix(hdr.Linkname, "/") {
				return errors.Errorf("archive entry %s links outside the archive", hdr.Name)
			}
			if _, err := secureJoin(filepath.Dir(target), hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		default:
			// Hard links, devices and the like have no business in a
			// package bundle.
			return errors.Errorf("archive entry %s has unsupported type %d", hdr.Name, hdr.Typeflag)
		}
	}
}

func decompress(in io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(in, 32*1024)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

func secureJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
		return "", errors.Errorf("archive entry %s escapes the extraction directory", name)
	}
	return target, nil
}
