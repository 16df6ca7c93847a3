package signing

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"sync"

	"droidium/internal/archive"
	"droidium/internal/executor"
	"droidium/internal/identifier"
)

// SigningError reports a failed signing tool invocation.
type SigningError struct {
	Input string
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign %s: %v", e.Input, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// IsSignatureEntry reports whether an archive entry belongs to a JAR/APK v1
// signature: the manifest digest file, signature files and signature
// blocks under META-INF.
func IsSignatureEntry(name string) bool {
	upper := strings.ToUpper(name)
	if path.Dir(upper) != "META-INF" {
		return false
	}
	base := path.Base(upper)
	switch {
	case base == "MANIFEST.MF":
		return true
	case strings.HasPrefix(base, "SIG-"):
		return true
	}
	switch path.Ext(base) {
	case ".SF", ".RSA", ".DSA", ".EC":
		return true
	}
	return false
}

// Signer signs and re-signs packages. A single Signer serves plain
// application packages and instrumentation server packages alike.
type Signer struct {
	cfg      Config
	exec     executor.Executor
	keys     *KeyStoreManager
	ids      identifier.Generator
	workDir  string
	logger   *log.Logger
	mu       sync.Mutex
	keyStore string
}

// NewSigner validates cfg and creates a signer writing intermediate files to
// workDir.
func NewSigner(exec executor.Executor, cfg Config, workDir string, logger *log.Logger) (*Signer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[signer] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Signer{
		cfg:     cfg,
		exec:    exec,
		keys:    NewKeyStoreManager(exec, cfg, logger),
		workDir: workDir,
		logger:  logger,
	}, nil
}

// KeyStore resolves the keystore once and returns it on later calls.
func (s *Signer) KeyStore(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyStore != "" && KeyStoreExists(s.keyStore) {
		return s.keyStore, nil
	}
	ks, err := s.keys.Resolve(ctx)
	if err != nil {
		return "", err
	}
	s.keyStore = ks
	return ks, nil
}

// Sign signs input into output with jarsigner.
func (s *Signer) Sign(ctx context.Context, input, output string) error {
	ks, err := s.KeyStore(ctx)
	if err != nil {
		return err
	}

	cmd, err := executor.Tool(s.cfg.JarSigner,
		"-sigalg", s.cfg.SignatureAlgorithm,
		"-digestalg", s.cfg.DigestAlgorithm,
		"-signedjar", output,
		"-storepass", s.cfg.StorePassword,
		"-keypass", s.cfg.KeyPassword,
		"-keystore", ks,
		input,
		s.cfg.Alias,
	)
	if err != nil {
		return &SigningError{Input: input, Err: err}
	}
	cmd.Timeout = s.cfg.Timeout
	cmd.Redact = []string{s.cfg.StorePassword, s.cfg.KeyPassword}

	if _, err := s.exec.Run(ctx, cmd); err != nil {
		return &SigningError{Input: input, Err: err}
	}

	s.logger.Printf("signed %s -> %s", input, output)
	return nil
}

// Resign strips every signature entry from input, signs the stripped copy
// and returns the path of the signed package. Unsigned input is accepted.
func (s *Signer) Resign(ctx context.Context, input string) (string, error) {
	a, err := archive.Open(input)
	if err != nil {
		return "", fmt.Errorf("resign %s: %w", input, err)
	}

	removed := a.DeleteFunc(IsSignatureEntry)

	unsigned := s.ids.Path(s.workDir, identifier.KindAPK)
	if err := a.Export(unsigned); err != nil {
		return "", fmt.Errorf("resign %s: %w", input, err)
	}

	signed := s.ids.Path(s.workDir, identifier.KindAPK)
	if err := s.Sign(ctx, unsigned, signed); err != nil {
		return "", err
	}

	s.logger.Printf("resigned %s (%d signature entries removed) -> %s", input, removed, signed)
	return signed, nil
}

// Verify checks the signature of a package with jarsigner -verify.
func (s *Signer) Verify(ctx context.Context, apk string) error {
	cmd, err := executor.Tool(s.cfg.JarSigner, "-verify", apk)
	if err != nil {
		return &SigningError{Input: apk, Err: err}
	}
	cmd.Timeout = s.cfg.Timeout

	var unsigned bool
	cmd.OnLine = func(line string) {
		if strings.Contains(line, "jar is unsigned") {
			unsigned = true
		}
	}
	if _, err := s.exec.Run(ctx, cmd); err != nil {
		return &SigningError{Input: apk, Err: fmt.Errorf("verify: %w", err)}
	}
	if unsigned {
		return &SigningError{Input: apk, Err: fmt.Errorf("verify: package is unsigned")}
	}
	return nil
}
