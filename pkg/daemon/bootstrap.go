package daemon

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bootstrap is the daemon's own configuration file, read once at
// startup. It is YAML and distinct from the JSON process document the
// configuration tree is bootstrapped from.
type Bootstrap struct {
	// Listen is the address to serve on, e.g. ":9560".
	Listen string `yaml:"listen"`

	// CertFile and KeyFile hold the server certificate. Empty generates
	// an ephemeral development certificate.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// ClientCAFile, when set, enables mutual TLS against the given CA.
	ClientCAFile string `yaml:"client_ca_file"`

	// Secret, when set, requires session tokens on mutating methods.
	Secret string `yaml:"secret"`

	// ProviderIDs are the manager instance ids served here. Empty
	// means id 0.
	ProviderIDs []uint16 `yaml:"provider_ids"`

	// ProcessConfig is the path of a JSON process document to
	// bootstrap the tree from.
	ProcessConfig string `yaml:"process_config"`

	// Modules are loaded at startup, before the daemon serves.
	Modules []BootstrapModule `yaml:"modules"`

	// Log configures protocol event logging.
	Log BootstrapLog `yaml:"log"`

	// Discovery configures the mDNS advertisement.
	Discovery BootstrapDiscovery `yaml:"discovery"`
}

// BootstrapModule names one module to load at startup.
type BootstrapModule struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// BootstrapLog configures protocol event logging.
type BootstrapLog struct {
	// Level is the slog level for console output: debug, info, warn,
	// error. Empty disables console logging.
	Level string `yaml:"level"`

	// File, when set, appends binary protocol events to the given path.
	File string `yaml:"file"`
}

// BootstrapDiscovery configures the mDNS advertisement.
type BootstrapDiscovery struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Interface string `yaml:"interface"`
}

// LoadBootstrap reads and parses a bootstrap file. Unknown keys are
// rejected so typos surface at startup.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bootstrap config: %w", err)
	}
	return ParseBootstrap(data)
}

// ParseBootstrap parses bootstrap YAML.
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	var b Bootstrap
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to parse bootstrap config: %w", err)
	}
	if b.CertFile != "" && b.KeyFile == "" || b.CertFile == "" && b.KeyFile != "" {
		return nil, fmt.Errorf("cert_file and key_file must be set together")
	}
	if b.Discovery.Enabled && b.Discovery.Instance == "" {
		return nil, fmt.Errorf("discovery.instance is required when discovery is enabled")
	}
	return &b, nil
}
