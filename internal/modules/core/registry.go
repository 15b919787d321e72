package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// ModuleRegistry routes logs to the modules whose filters match them
type ModuleRegistry struct {
	modules map[string]Module
	logger  zerolog.Logger

	// Event routing
	eventFilters   map[string][]string // topic -> module names
	addressFilters map[string][]string // address -> module names

	mu      sync.RWMutex
	running bool
}

// NewModuleRegistry creates a new module registry
func NewModuleRegistry(logger zerolog.Logger) *ModuleRegistry {
	return &ModuleRegistry{
		modules:        make(map[string]Module),
		logger:         logger.With().Str("component", "module_registry").Logger(),
		eventFilters:   make(map[string][]string),
		addressFilters: make(map[string][]string),
	}
}

// RegisterModule validates a module's manifest and indexes its filters
func (r *ModuleRegistry) RegisterModule(module Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := module.Name()
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %s is already registered", name)
	}

	manifest := module.Manifest()
	if manifest == nil {
		return fmt.Errorf("module %s has no manifest", name)
	}
	if err := manifest.ValidateManifest(); err != nil {
		return fmt.Errorf("module %s has invalid manifest: %w", name, err)
	}

	filters := module.GetEventFilters()
	for _, filter := range filters {
		if filter.Topic0 != "" {
			topic := strings.ToLower(filter.Topic0)
			r.eventFilters[topic] = appendUnique(r.eventFilters[topic], name)
			r.logger.Debug().
				Str("module", name).
				Str("topic0", topic).
				Msg("Registered topic filter")
		}
		if filter.Address != "" {
			addr := strings.ToLower(filter.Address)
			r.addressFilters[addr] = appendUnique(r.addressFilters[addr], name)
			r.logger.Debug().
				Str("module", name).
				Str("address", addr).
				Msg("Registered address filter")
		}
	}

	r.modules[name] = module

	r.logger.Info().
		Str("module", name).
		Str("version", module.Version()).
		Int("filters", len(filters)).
		Msg("Module registered successfully")

	return nil
}

// UnregisterModule removes a module from the registry
func (r *ModuleRegistry) UnregisterModule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; !exists {
		return fmt.Errorf("module %s is not registered", name)
	}

	for topic, names := range r.eventFilters {
		if r.eventFilters[topic] = removeFromSlice(names, name); len(r.eventFilters[topic]) == 0 {
			delete(r.eventFilters, topic)
		}
	}
	for address, names := range r.addressFilters {
		if r.addressFilters[address] = removeFromSlice(names, name); len(r.addressFilters[address]) == 0 {
			delete(r.addressFilters, address)
		}
	}

	delete(r.modules, name)

	r.logger.Info().Str("module", name).Msg("Module unregistered")
	return nil
}

// ProcessEvent routes an event to interested modules in name order. The first
// module error stops routing and is returned, so the caller can retry the event.
func (r *ModuleRegistry) ProcessEvent(ctx context.Context, event *RawEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running {
		return ErrRegistryStopped
	}

	log := event.Log
	interested := r.findInterestedModules(event)
	if len(interested) == 0 {
		r.logger.Debug().
			Str("address", log.Address.Hex()).
			Uint64("block", log.BlockNumber).
			Msg("No modules interested in event")
		return nil
	}

	for _, name := range interested {
		if err := r.modules[name].HandleEvent(ctx, event); err != nil {
			r.logger.Error().
				Err(err).
				Str("module", name).
				Uint64("block", log.BlockNumber).
				Uint("log_index", log.Index).
				Str("tx_hash", log.TxHash.Hex()).
				Msg("Module failed to process event")
			return fmt.Errorf("module %s: %w", name, err)
		}
	}

	return nil
}

// findInterestedModules finds modules that should process this event.
// A module that filters on both address and topic must match both.
func (r *ModuleRegistry) findInterestedModules(event *RawEvent) []string {
	log := event.Log
	address := strings.ToLower(log.Address.Hex())

	var interested []string
	for name, module := range r.modules {
		for _, filter := range module.GetEventFilters() {
			if filter.Address != "" && strings.ToLower(filter.Address) != address {
				continue
			}
			if filter.Topic0 != "" && (len(log.Topics) == 0 || strings.ToLower(filter.Topic0) != strings.ToLower(log.Topics[0].Hex())) {
				continue
			}
			interested = append(interested, name)
			break
		}
	}

	sort.Strings(interested)
	return interested
}

// Topics returns every topic0 some module subscribes to.
func (r *ModuleRegistry) Topics() []common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]common.Hash, 0, len(r.eventFilters))
	for topic := range r.eventFilters {
		topics = append(topics, common.HexToHash(topic))
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Hex() < topics[j].Hex() })
	return topics
}

// Addresses returns every contract address some module subscribes to.
func (r *ModuleRegistry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addresses := make([]common.Address, 0, len(r.addressFilters))
	for address := range r.addressFilters {
		addresses = append(addresses, common.HexToAddress(address))
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i].Hex() < addresses[j].Hex() })
	return addresses
}

// StartBlock returns the earliest start block of the registered modules.
func (r *ModuleRegistry) StartBlock() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var start uint64
	first := true
	for _, module := range r.modules {
		if b := module.GetStartBlock(); first || b < start {
			start, first = b, false
		}
	}
	return start
}

// Start begins routing events
func (r *ModuleRegistry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("module registry is already running")
	}

	r.running = true
	r.logger.Info().Int("modules", len(r.modules)).Msg("Module registry started")

	return nil
}

// Stop stops routing events
func (r *ModuleRegistry) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	r.running = false
	r.logger.Info().Msg("Module registry stopped")
	return nil
}

// GetModule returns a registered module by name
func (r *ModuleRegistry) GetModule(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, exists := r.modules[name]
	return module, exists
}

// ListModules returns all registered module names in ascending order
func (r *ModuleRegistry) ListModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// ErrRegistryStopped is returned by ProcessEvent when the registry is not running.
var ErrRegistryStopped = errors.New("module registry is not running")

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}

// Helper function to remove an item from a slice
func removeFromSlice(slice []string, item string) []string {
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if s != item {
			result = append(result, s)
		}
	}
	return result
}
