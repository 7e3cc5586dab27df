// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package vtree

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/Fantom-foundation/vmap/common"
)

// Config defines the tuning options of a lineage. Zero values are replaced
// by defaults when a lineage is opened.
type Config struct {
	// A descriptive name for this configuration. It has no effect except for
	// logging and debugging purposes.
	Name string

	// ChunkHeight is the number of tree levels grouped into a single unit of
	// work of the hashing pipeline. Larger chunks reduce scheduling overhead
	// while smaller chunks increase the parallelism. The resulting hashes are
	// independent of this value.
	ChunkHeight int

	// MaxUnflushedLayers is the maximum number of sealed versions waiting for
	// being flushed to the data source. Creating further copies is subject to
	// backpressure.
	MaxUnflushedLayers int

	// If set, copies exceeding the MaxUnflushedLayers limit fail with
	// ErrBackpressure instead of waiting for the flusher to catch up.
	RejectOnBackpressure bool

	// HashWorkers is the number of goroutines used for hashing.
	HashWorkers int

	// FlushRetries is the number of times a failed flush is retried before
	// the lineage is considered broken. Defaults to 3 if unset.
	FlushRetries int

	// FlushRetryDelay is the time waited between flush attempts.
	FlushRetryDelay time.Duration

	// Log is the logger used for reporting flush and backpressure events.
	Log *common.Log
}

const (
	MinChunkHeight = 1
	MaxChunkHeight = 16

	defaultChunkHeight        = 5
	defaultMaxUnflushedLayers = 16
	defaultFlushRetries       = 3
	defaultFlushRetryDelay    = 100 * time.Millisecond
)

// DefaultConfig is the configuration intended for production use.
var DefaultConfig = Config{
	Name:               "Default",
	ChunkHeight:        defaultChunkHeight,
	MaxUnflushedLayers: defaultMaxUnflushedLayers,
	FlushRetries:       defaultFlushRetries,
	FlushRetryDelay:    defaultFlushRetryDelay,
}

// TestConfig is a configuration with small limits, making corner cases of
// the chunking and backpressure logic likely to be hit.
var TestConfig = Config{
	Name:               "Test",
	ChunkHeight:        2,
	MaxUnflushedLayers: 4,
	HashWorkers:        4,
	FlushRetries:       2,
	FlushRetryDelay:    time.Millisecond,
	Log:                common.NewNopLog(),
}

var allConfigs = []Config{DefaultConfig, TestConfig}

// GetConfigByName attempts to locate a configuration with the given name.
func GetConfigByName(name string) (Config, bool) {
	for _, config := range allConfigs {
		if config.Name == name {
			return config, true
		}
	}
	return Config{}, false
}

// Validate checks the explicitly set values of the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.ChunkHeight != 0 && (c.ChunkHeight < MinChunkHeight || c.ChunkHeight > MaxChunkHeight) {
		errs = append(errs, fmt.Errorf("chunk height must be in range [%d,%d], got %d", MinChunkHeight, MaxChunkHeight, c.ChunkHeight))
	}
	if c.MaxUnflushedLayers < 0 {
		errs = append(errs, fmt.Errorf("max unflushed layers must not be negative, got %d", c.MaxUnflushedLayers))
	}
	if c.HashWorkers < 0 {
		errs = append(errs, fmt.Errorf("number of hash workers must not be negative, got %d", c.HashWorkers))
	}
	if c.FlushRetries < 0 {
		errs = append(errs, fmt.Errorf("flush retries must not be negative, got %d", c.FlushRetries))
	}
	if c.FlushRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("flush retry delay must not be negative, got %v", c.FlushRetryDelay))
	}
	return errors.Join(errs...)
}

// withDefaults returns a copy of the configuration where unset values are
// replaced by their defaults.
func (c Config) withDefaults() Config {
	if c.ChunkHeight == 0 {
		c.ChunkHeight = defaultChunkHeight
	}
	if c.MaxUnflushedLayers == 0 {
		c.MaxUnflushedLayers = defaultMaxUnflushedLayers
	}
	if c.HashWorkers == 0 {
		c.HashWorkers = runtime.NumCPU()
	}
	if c.FlushRetries == 0 {
		c.FlushRetries = defaultFlushRetries
	}
	if c.FlushRetryDelay == 0 {
		c.FlushRetryDelay = defaultFlushRetryDelay
	}
	if c.Log == nil {
		c.Log = common.NewLog(nil, "vtree")
	}
	return c
}
