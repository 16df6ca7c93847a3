// Package manifest retargets an instrumentation server package at an
// application package: it patches the server's manifest template, compiles it
// with aapt and splices the binary manifest back into the server archive.
package manifest

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"droidium/internal/archive"
	"droidium/internal/executor"
	"droidium/internal/identifier"
)

// ManifestEntry is the manifest's entry name inside a package.
const ManifestEntry = "AndroidManifest.xml"

//go:embed template/AndroidManifest.xml
var bundledTemplate []byte

// ErrTemplateMissing is returned when the manifest template cannot be read.
var ErrTemplateMissing = errors.New("manifest template missing")

// Step names a stage of a rebuild.
type Step string

const (
	StepTemplate   Step = "template"
	StepSubstitute Step = "substitute"
	StepCompile    Step = "compile"
	StepSplice     Step = "splice"
	StepExport     Step = "export"
)

// RebuildError reports the failed stage of a rebuild and the artifact it
// was working on.
type RebuildError struct {
	Step Step
	Path string
	Err  error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("rebuild %s (%s): %v", e.Path, e.Step, e.Err)
}

func (e *RebuildError) Unwrap() error {
	return e.Err
}

// Config holds the rebuild tool settings.
type Config struct {
	// AAPT is the aapt command line.
	AAPT string
	// AndroidJar is the platform library passed to aapt with -I.
	AndroidJar string
	// Template overrides the bundled manifest template when set.
	Template     string
	Placeholders Placeholders
	Timeout      time.Duration
}

// Result lists the artifacts of a successful rebuild.
type Result struct {
	Manifest      string
	Dummy         string
	WorkingCopy   string
	Rebuilt       string
	ServerPackage string
}

// Rebuilder produces server packages bound to a target application. All
// intermediate files are written to its working directory.
type Rebuilder struct {
	cfg     Config
	exec    executor.Executor
	ids     identifier.Generator
	workDir string
	logger  *log.Logger
}

// NewRebuilder creates a rebuilder.
func NewRebuilder(exec executor.Executor, cfg Config, workDir string, logger *log.Logger) *Rebuilder {
	if logger == nil {
		logger = log.New(os.Stdout, "[rebuilder] ", log.LstdFlags|log.Lmsgprefix)
	}
	if cfg.AAPT == "" {
		cfg.AAPT = "aapt"
	}
	cfg.Placeholders = cfg.Placeholders.withDefaults()
	return &Rebuilder{cfg: cfg, exec: exec, workDir: workDir, logger: logger}
}

// ServerPackageName derives a unique package name from the server's own.
func (r *Rebuilder) ServerPackageName() string {
	return r.cfg.Placeholders.ServerPackage + "_" + r.ids.PackageSuffix()
}

// Rebuild retargets serverAPK at targetPackage and returns the rebuilt,
// still unsigned, server package.
func (r *Rebuilder) Rebuild(ctx context.Context, serverAPK, targetPackage string) (*Result, error) {
	if targetPackage == "" {
		return nil, &RebuildError{Step: StepSubstitute, Path: serverAPK, Err: fmt.Errorf("empty target package")}
	}

	res := &Result{
		Manifest:      r.ids.Path(r.workDir, identifier.KindManifest),
		Dummy:         r.ids.Path(r.workDir, identifier.KindAPK),
		WorkingCopy:   r.ids.Path(r.workDir, identifier.KindAPK),
		Rebuilt:       r.ids.Path(r.workDir, identifier.KindAPK),
		ServerPackage: r.ServerPackageName(),
	}

	lines, err := r.template()
	if err != nil {
		return nil, err
	}
	if err := writeLines(res.Manifest, lines); err != nil {
		return nil, &RebuildError{Step: StepTemplate, Path: res.Manifest, Err: err}
	}

	p := r.cfg.Placeholders
	for _, marker := range []string{packageAttr(p.ServerPackage), targetAttr(p.TargetPackage)} {
		if Occurrences(lines, marker) == 0 {
			return nil, &RebuildError{Step: StepSubstitute, Path: res.Manifest, Err: fmt.Errorf("placeholder %s not found", marker)}
		}
	}
	patched := SubstituteAll(lines, p.Substitutions(res.ServerPackage, targetPackage)...)
	if err := writeLines(res.Manifest, patched); err != nil {
		return nil, &RebuildError{Step: StepSubstitute, Path: res.Manifest, Err: err}
	}

	if err := r.compile(ctx, res.Manifest, res.Dummy); err != nil {
		return nil, &RebuildError{Step: StepCompile, Path: res.Manifest, Err: err}
	}

	compiled, err := readManifest(res.Dummy)
	if err != nil {
		return nil, &RebuildError{Step: StepSplice, Path: res.Dummy, Err: err}
	}
	if err := copyFile(serverAPK, res.WorkingCopy); err != nil {
		return nil, &RebuildError{Step: StepSplice, Path: serverAPK, Err: err}
	}
	server, err := archive.Open(res.WorkingCopy)
	if err != nil {
		return nil, &RebuildError{Step: StepSplice, Path: res.WorkingCopy, Err: err}
	}
	server.Replace(ManifestEntry, compiled)

	if err := server.Export(res.Rebuilt); err != nil {
		return nil, &RebuildError{Step: StepExport, Path: res.Rebuilt, Err: err}
	}

	r.logger.Printf("rebuilt %s for %s as %s -> %s", serverAPK, targetPackage, res.ServerPackage, res.Rebuilt)
	return res, nil
}

func (r *Rebuilder) template() ([]string, error) {
	data := bundledTemplate
	path := "bundled template"
	if r.cfg.Template != "" {
		path = r.cfg.Template
		var err error
		data, err = os.ReadFile(r.cfg.Template)
		if err != nil {
			return nil, &RebuildError{Step: StepTemplate, Path: path, Err: fmt.Errorf("%w: %v", ErrTemplateMissing, err)}
		}
	}
	if len(data) == 0 {
		return nil, &RebuildError{Step: StepTemplate, Path: path, Err: ErrTemplateMissing}
	}
	return strings.Split(string(data), "\n"), nil
}

func (r *Rebuilder) compile(ctx context.Context, manifest, dummy string) error {
	if r.cfg.AndroidJar == "" {
		return fmt.Errorf("android.jar not configured")
	}
	cmd, err := executor.Tool(r.cfg.AAPT,
		"package", "-f",
		"-M", manifest,
		"-I", r.cfg.AndroidJar,
		"-F", dummy,
	)
	if err != nil {
		return err
	}
	cmd.Timeout = r.cfg.Timeout
	if _, err := r.exec.Run(ctx, cmd); err != nil {
		return fmt.Errorf("compile manifest: %w", err)
	}
	return nil
}

func readManifest(dummy string) ([]byte, error) {
	a, err := archive.Open(dummy)
	if err != nil {
		return nil, err
	}
	data, ok := a.Read(ManifestEntry)
	if !ok {
		return nil, fmt.Errorf("%s has no %s", dummy, ManifestEntry)
	}
	return data, nil
}

func writeLines(path string, lines []string) error {
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
