// Package archive reads ZIP based packages (APKs), lets callers delete and
// replace named entries, and exports the result to a new file.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type entry struct {
	header zip.FileHeader
	data   []byte
}

// Archive is an in-memory, ordered copy of a ZIP file's entries.
type Archive struct {
	path    string
	entries []*entry
}

// Open reads every entry of the ZIP file at path.
func Open(path string) (*Archive, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer r.Close()

	a := &Archive{path: path}
	for _, f := range r.File {
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", f.Name, path, err)
		}
		a.entries = append(a.entries, &entry{header: f.FileHeader, data: data})
	}
	return a, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Path returns the file the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// Names returns the entry names in archive order.
func (a *Archive) Names() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.header.Name
	}
	return names
}

// Contains reports whether an entry with the given name exists.
func (a *Archive) Contains(name string) bool {
	return a.index(name) >= 0
}

// Read returns the uncompressed content of the named entry.
func (a *Archive) Read(name string) ([]byte, bool) {
	i := a.index(name)
	if i < 0 {
		return nil, false
	}
	return append([]byte(nil), a.entries[i].data...), true
}

// Delete removes the named entry and reports whether it existed.
func (a *Archive) Delete(name string) bool {
	i := a.index(name)
	if i < 0 {
		return false
	}
	a.entries = append(a.entries[:i], a.entries[i+1:]...)
	return true
}

// DeleteFunc removes every entry whose name satisfies pred and returns how
// many were removed.
func (a *Archive) DeleteFunc(pred func(name string) bool) int {
	kept := a.entries[:0]
	removed := 0
	for _, e := range a.entries {
		if pred(e.header.Name) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	a.entries = kept
	return removed
}

// Replace sets the content of the named entry, adding it at the end when it
// does not exist yet.
func (a *Archive) Replace(name string, data []byte) {
	if i := a.index(name); i >= 0 {
		a.entries[i].data = append([]byte(nil), data...)
		return
	}
	a.entries = append(a.entries, &entry{
		header: zip.FileHeader{Name: name, Method: zip.Deflate},
		data:   append([]byte(nil), data...),
	})
}

// Export writes the archive to path, creating parent directories.
func (a *Archive) Export(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	zw := zip.NewWriter(f)
	for _, e := range a.entries {
		header := e.header
		// Sizes and CRC are recomputed by the writer.
		header.CompressedSize64 = 0
		header.UncompressedSize64 = 0
		header.CompressedSize = 0
		header.UncompressedSize = 0
		header.CRC32 = 0
		w, err := zw.CreateHeader(&header)
		if err != nil {
			f.Close()
			return fmt.Errorf("write header %s: %w", header.Name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			f.Close()
			return fmt.Errorf("write entry %s: %w", header.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finish %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func (a *Archive) index(name string) int {
	for i, e := range a.entries {
		if e.header.Name == name {
			return i
		}
	}
	return -1
}
