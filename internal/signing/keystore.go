package signing

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"droidium/internal/executor"
)

// KeyStoreError reports a keystore that could not be created or resolved.
type KeyStoreError struct {
	Path string
	Err  error
}

func (e *KeyStoreError) Error() string {
	return fmt.Sprintf("keystore %s: %v", e.Path, e.Err)
}

func (e *KeyStoreError) Unwrap() error {
	return e.Err
}

// KeyStoreExists reports whether path names a readable regular file. Any
// stat failure is a negative answer, never an error.
func KeyStoreExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// KeyStoreManager creates keystores with the configured key parameters.
type KeyStoreManager struct {
	cfg    Config
	exec   executor.Executor
	logger *log.Logger
}

// NewKeyStoreManager creates a keystore manager.
func NewKeyStoreManager(exec executor.Executor, cfg Config, logger *log.Logger) *KeyStoreManager {
	if logger == nil {
		logger = log.New(os.Stdout, "[keystore] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &KeyStoreManager{cfg: cfg, exec: exec, logger: logger}
}

// CreateKeyStore generates a new keystore at path with keytool.
func (m *KeyStoreManager) CreateKeyStore(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &KeyStoreError{Path: path, Err: fmt.Errorf("create keystore directory: %w", err)}
	}

	cmd, err := executor.Tool(m.cfg.KeyTool,
		"-genkey", "-v",
		"-keystore", path,
		"-storepass", m.cfg.StorePassword,
		"-alias", m.cfg.Alias,
		"-keypass", m.cfg.KeyPassword,
		"-dname", DistinguishedName,
		"-storetype", m.cfg.StoreType,
		"-keyalg", m.cfg.KeyAlgorithm,
		"-sigalg", m.cfg.SignatureAlgorithm,
	)
	if err != nil {
		return &KeyStoreError{Path: path, Err: err}
	}
	cmd.Timeout = m.cfg.Timeout
	cmd.Redact = []string{m.cfg.StorePassword, m.cfg.KeyPassword}

	if _, err := m.exec.Run(ctx, cmd); err != nil {
		return &KeyStoreError{Path: path, Err: fmt.Errorf("create keystore: %w", err)}
	}

	m.logger.Printf("created keystore %s (alias=%s)", path, m.cfg.Alias)
	return nil
}

// Resolve returns the keystore to sign with: the configured keystore, else
// the default one, else a newly created keystore at the configured (or
// default) path.
func (m *KeyStoreManager) Resolve(ctx context.Context) (string, error) {
	if KeyStoreExists(m.cfg.KeyStore) {
		return m.cfg.KeyStore, nil
	}
	if KeyStoreExists(m.cfg.DefaultKeyStore) {
		if m.cfg.KeyStore != "" {
			m.logger.Printf("keystore %s not found, using %s", m.cfg.KeyStore, m.cfg.DefaultKeyStore)
		}
		return m.cfg.DefaultKeyStore, nil
	}

	target := m.cfg.KeyStore
	if target == "" {
		target = m.cfg.DefaultKeyStore
	}
	if err := m.CreateKeyStore(ctx, target); err != nil {
		return "", err
	}
	return target, nil
}
