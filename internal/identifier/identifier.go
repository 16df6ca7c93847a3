// Package identifier generates collision-resistant names for the temporary
// artifacts written to a container's working directory.
package identifier

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ArtifactKind is the closed set of artifact kinds a name can be generated for.
type ArtifactKind int

const (
	KindAPK ArtifactKind = iota
	KindKeystore
	KindManifest
	KindDirectory
	KindFile
)

func (k ArtifactKind) String() string {
	switch k {
	case KindAPK:
		return "apk"
	case KindKeystore:
		return "keystore"
	case KindManifest:
		return "manifest"
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	}
	panic(fmt.Sprintf("identifier: unknown artifact kind %d", int(k)))
}

// Suffix returns the file extension used for the kind.
func (k ArtifactKind) Suffix() string {
	switch k {
	case KindAPK:
		return ".apk"
	case KindKeystore:
		return ".keystore"
	case KindManifest:
		return ".xml"
	case KindDirectory:
		return ""
	case KindFile:
		return ".tmp"
	}
	panic(fmt.Sprintf("identifier: unknown artifact kind %d", int(k)))
}

// Generator produces artifact names. The zero value is ready to use.
type Generator struct {
	// New returns the random part of a name; uuid.NewString when nil.
	New func() string
}

func (g Generator) random() string {
	if g.New != nil {
		return g.New()
	}
	return uuid.NewString()
}

// Name returns a fresh file name for the given kind.
func (g Generator) Name(kind ArtifactKind) string {
	return g.random() + kind.Suffix()
}

// Path returns a fresh path for the given kind inside dir.
func (g Generator) Path(dir string, kind ArtifactKind) string {
	return filepath.Join(dir, g.Name(kind))
}

// PackageSuffix returns a short identifier usable as a segment of an Android
// package name: lowercase alphanumerics starting with a letter.
func (g Generator) PackageSuffix() string {
	raw := strings.ReplaceAll(g.random(), "-", "")
	var b strings.Builder
	b.WriteByte('i')
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 12 {
			break
		}
	}
	return b.String()
}
