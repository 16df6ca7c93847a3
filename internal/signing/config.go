// Package signing manages the signing keystore and (re)signs application
// packages with it.
package signing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DistinguishedName is the fixed subject of generated signing keys.
const DistinguishedName = "CN=Android,O=Android,C=US"

// Config holds the keystore and tool parameters shared by every signing
// operation.
type Config struct {
	// KeyStore is the configured keystore path. When empty or missing,
	// DefaultKeyStore is tried before a new keystore is created.
	KeyStore        string `yaml:"keystore"`
	DefaultKeyStore string `yaml:"default_keystore"`

	Alias              string `yaml:"alias"`
	StorePassword      string `yaml:"store_password"`
	KeyPassword        string `yaml:"key_password"`
	KeyAlgorithm       string `yaml:"key_algorithm"`
	SignatureAlgorithm string `yaml:"signature_algorithm"`
	DigestAlgorithm    string `yaml:"digest_algorithm"`
	StoreType          string `yaml:"store_type"`

	// KeyTool and JarSigner are command lines, e.g. "keytool" or
	// "/usr/lib/jvm/java-8/bin/jarsigner".
	KeyTool   string `yaml:"keytool"`
	JarSigner string `yaml:"jarsigner"`

	// Timeout bounds each tool invocation; zero means no bound.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultConfig returns the Android debug key settings.
func DefaultConfig() Config {
	return Config{
		DefaultKeyStore:    defaultKeyStorePath(),
		Alias:              "androiddebugkey",
		StorePassword:      "android",
		KeyPassword:        "android",
		KeyAlgorithm:       "RSA",
		SignatureAlgorithm: "SHA1withRSA",
		DigestAlgorithm:    "SHA1",
		StoreType:          "JKS",
		KeyTool:            "keytool",
		JarSigner:          "jarsigner",
		Timeout:            2 * time.Minute,
	}
}

func defaultKeyStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".android", "debug.keystore")
	}
	return filepath.Join(home, ".android", "debug.keystore")
}

// WithDefaults fills every empty field from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DefaultKeyStore == "" {
		c.DefaultKeyStore = d.DefaultKeyStore
	}
	if c.Alias == "" {
		c.Alias = d.Alias
	}
	if c.StorePassword == "" {
		c.StorePassword = d.StorePassword
	}
	if c.KeyPassword == "" {
		c.KeyPassword = d.KeyPassword
	}
	if c.KeyAlgorithm == "" {
		c.KeyAlgorithm = d.KeyAlgorithm
	}
	if c.SignatureAlgorithm == "" {
		c.SignatureAlgorithm = d.SignatureAlgorithm
	}
	if c.DigestAlgorithm == "" {
		c.DigestAlgorithm = d.DigestAlgorithm
	}
	if c.StoreType == "" {
		c.StoreType = d.StoreType
	}
	if c.KeyTool == "" {
		c.KeyTool = d.KeyTool
	}
	if c.JarSigner == "" {
		c.JarSigner = d.JarSigner
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Validate reports missing keystore parameters before any tool runs.
func (c Config) Validate() error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("alias", c.Alias)
	check("store_password", c.StorePassword)
	check("key_password", c.KeyPassword)
	check("key_algorithm", c.KeyAlgorithm)
	check("signature_algorithm", c.SignatureAlgorithm)
	check("digest_algorithm", c.DigestAlgorithm)
	check("store_type", c.StoreType)
	check("keytool", c.KeyTool)
	check("jarsigner", c.JarSigner)
	if c.KeyStore == "" && c.DefaultKeyStore == "" {
		missing = append(missing, "keystore")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid signing configuration: missing %s", strings.Join(missing, ", "))
	}
	if len(c.StorePassword) < 6 {
		return fmt.Errorf("invalid signing configuration: store_password must be at least 6 characters")
	}
	return nil
}
