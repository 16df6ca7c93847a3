package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeZip(t *testing.T, path string, files map[string]string, order []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	f.Close()
}

func TestOpenReadAndNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.apk")
	order := []string{"AndroidManifest.xml", "classes.dex", "META-INF/CERT.SF"}
	writeZip(t, path, map[string]string{
		"AndroidManifest.xml": "manifest",
		"classes.dex":         "dex",
		"META-INF/CERT.SF":    "sig",
	}, order)

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reflect.DeepEqual(a.Names(), order) {
		t.Errorf("Names() = %v, want %v", a.Names(), order)
	}
	data, ok := a.Read("classes.dex")
	if !ok || string(data) != "dex" {
		t.Errorf("Read(classes.dex) = %q, %v", data, ok)
	}
	if _, ok := a.Read("missing"); ok {
		t.Error("Read(missing) should report false")
	}
	if a.Path() != path {
		t.Errorf("Path() = %q", a.Path())
	}
}

func TestDeleteReplaceExport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "server.apk")
	writeZip(t, src, map[string]string{
		"AndroidManifest.xml":   "old",
		"classes.dex":           "dex",
		"META-INF/MANIFEST.MF":  "mf",
		"META-INF/CERT.RSA":     "rsa",
		"res/drawable/icon.png": "png",
	}, []string{"AndroidManifest.xml", "classes.dex", "META-INF/MANIFEST.MF", "META-INF/CERT.RSA", "res/drawable/icon.png"})

	a, err := Open(src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if !a.Delete("META-INF/MANIFEST.MF") {
		t.Error("Delete existing entry returned false")
	}
	if a.Delete("META-INF/MANIFEST.MF") {
		t.Error("second Delete should return false")
	}
	if n := a.DeleteFunc(func(n string) bool { return strings.HasPrefix(n, "META-INF/") }); n != 1 {
		t.Errorf("DeleteFunc removed %d, want 1", n)
	}
	a.Replace("AndroidManifest.xml", []byte("new"))
	a.Replace("assets/extra.txt", []byte("extra"))

	out := filepath.Join(dir, "nested", "out.apk")
	if err := a.Export(out); err != nil {
		t.Fatalf("Export: %v", err)
	}

	b, err := Open(out)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	want := []string{"AndroidManifest.xml", "classes.dex", "res/drawable/icon.png", "assets/extra.txt"}
	if !reflect.DeepEqual(b.Names(), want) {
		t.Errorf("exported names = %v, want %v", b.Names(), want)
	}
	if data, _ := b.Read("AndroidManifest.xml"); string(data) != "new" {
		t.Errorf("manifest = %q, want new", data)
	}
	if data, _ := b.Read("classes.dex"); string(data) != "dex" {
		t.Errorf("classes.dex changed: %q", data)
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.apk"))
	if err == nil || !strings.Contains(err.Error(), "missing.apk") {
		t.Errorf("expected error naming the path, got %v", err)
	}
}
