package loader

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
)

// ManifestLoader reads module manifests and checks them against the chain
// being indexed.
type ManifestLoader struct {
	network string
	logger  zerolog.Logger
}

type Option func(*ManifestLoader)

// WithNetwork makes data sources default to network and rejects manifests
// written for another one. An empty network keeps "ethereum".
func WithNetwork(network string) Option {
	return func(l *ManifestLoader) {
		if network != "" {
			l.network = network
		}
	}
}

func NewManifestLoader(logger zerolog.Logger, opts ...Option) *ManifestLoader {
	l := &ManifestLoader{
		network: "ethereum",
		logger:  logger.With().Str("component", "manifest_loader").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFromFile reads and parses the manifest at path.
func (l *ManifestLoader) LoadFromFile(path string) (*core.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file %s: %w", path, err)
	}

	manifest, err := l.ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	l.logger.Info().
		Str("name", manifest.Name).
		Str("version", manifest.Version).
		Str("path", path).
		Msg("Loaded manifest")
	return manifest, nil
}

// ParseManifest parses a YAML manifest. ${VAR} references are expanded from
// the environment first, so one manifest can serve several deployments.
func (l *ManifestLoader) ParseManifest(data []byte) (*core.Manifest, error) {
	var manifest core.Manifest

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
	}

	l.setDefaults(&manifest)

	if err := manifest.ValidateManifest(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	for i, ds := range manifest.DataSources {
		if ds.Network != l.network {
			return nil, core.ErrInvalidManifest{
				Field:  fmt.Sprintf("dataSources[%d].network", i),
				Reason: fmt.Sprintf("%q does not match chain %q", ds.Network, l.network),
			}
		}
	}

	return &manifest, nil
}

func (l *ManifestLoader) setDefaults(manifest *core.Manifest) {
	for i := range manifest.DataSources {
		ds := &manifest.DataSources[i]

		if ds.Kind == "" {
			ds.Kind = "ethereum/contract"
		}
		if ds.Network == "" {
			ds.Network = l.network
		}
		if ds.Mapping.Kind == "" {
			ds.Mapping.Kind = "ethereum/events"
		}
		if ds.Source.StartBlock == nil {
			startBlock := uint64(0)
			ds.Source.StartBlock = &startBlock
		}
	}
}
