package ingest

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// maxEntrySize caps a single decompressed ZIP entry.
const maxEntrySize = 256 << 20

// ExpandZIP returns the files inside a ZIP attachment, flattened to their
// base names. Directories and macOS resource forks are skipped.
func ExpandZIP(data []byte) ([]Attachment, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var out []Attachment
	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, eris.Wrapf(err, "zip: open entry %s", f.Name)
		}
		body, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
		rc.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrapf(err, "zip: read entry %s", f.Name)
		}
		if len(body) > maxEntrySize {
			return nil, eris.Errorf("zip: entry %s exceeds %d bytes", f.Name, maxEntrySize)
		}
		out = append(out, Attachment{Filename: path.Base(f.Name), Data: body})
	}
	return out, nil
}

func isZIP(filename string) bool {
	return strings.EqualFold(path.Ext(filename), ".zip")
}
