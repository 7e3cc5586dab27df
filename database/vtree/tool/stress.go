// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/Fantom-foundation/vmap/common"
	"github.com/Fantom-foundation/vmap/common/interrupt"
	"github.com/Fantom-foundation/vmap/database/vtree"
	"github.com/Fantom-foundation/vmap/database/vtree/ldb"
	"github.com/pbnjay/memory"
	"github.com/urfave/cli/v2"
)

var Stress = cli.Command{
	Action:    addPerformanceDiagnoses(stress),
	Name:      "stress",
	Usage:     "runs random updates on a virtual Merkle map, creating it if needed",
	ArgsUsage: "<directory>",
	Flags: []cli.Flag{
		&numKeysFlag,
		&numVersionsFlag,
		&updatesPerVersionFlag,
		&reportIntervalFlag,
		&seedFlag,
		&cacheSizeFlag,
		&configFlag,
	},
}

var (
	numKeysFlag = cli.IntFlag{
		Name:  "keys",
		Usage: "the number of distinct keys updated",
		Value: 100_000,
	}
	numVersionsFlag = cli.IntFlag{
		Name:  "versions",
		Usage: "the number of versions to be created",
		Value: 1_000,
	}
	updatesPerVersionFlag = cli.IntFlag{
		Name:  "updates-per-version",
		Usage: "the number of puts and removes per version",
		Value: 1_000,
	}
	reportIntervalFlag = cli.IntFlag{
		Name:  "report-interval",
		Usage: "the size of a reporting interval in number of versions",
		Value: 100,
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "the seed for the random number generator, 0 for a random seed",
		Value: 0,
	}
	cacheSizeFlag = cli.Int64Flag{
		Name:  "cache-size",
		Usage: "the size of the record cache in bytes, 0 for a size derived from the physical memory",
		Value: 0,
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "the name of the lineage configuration to be used",
		Value: vtree.DefaultConfig.Name,
	}
)

// removeRatio is the share of updates removing a key.
const removeRatio = 0.2

func stress(context *cli.Context) error {
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing directory storing the map")
	}
	dir := context.Args().Get(0)

	config, found := vtree.GetConfigByName(context.String(configFlag.Name))
	if !found {
		return fmt.Errorf("unknown configuration %q", context.String(configFlag.Name))
	}
	log := common.NewLog(os.Stdout, "stress")
	config.Log = log.Named("lineage")

	cacheSize := context.Int64(cacheSizeFlag.Name)
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize()
	}
	numKeys := context.Int(numKeysFlag.Name)
	numVersions := context.Int(numVersionsFlag.Name)
	updatesPerVersion := context.Int(updatesPerVersionFlag.Name)
	reportInterval := context.Int(reportIntervalFlag.Name)
	if numKeys <= 0 || numVersions < 0 || updatesPerVersion < 0 || reportInterval <= 0 {
		return fmt.Errorf("invalid workload parameters")
	}
	seed := context.Int64(seedFlag.Name)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Printf("using seed %d, cache size %d MiB", seed, cacheSize>>20)

	source, err := ldb.Open(ldb.Config{Directory: dir, CacheSize: cacheSize})
	if err != nil {
		return err
	}
	lineage, tree, err := vtree.OpenLineage(source, config)
	if err != nil {
		return errors.Join(err, source.Close())
	}

	ctx := interrupt.CancelOnInterrupt(context.Context)
	rand := rand.New(rand.NewSource(seed))
	progress := log.NewProgressTracker("created %d versions, %.2f versions/s", reportInterval)
	runErr := func() error {
		for i := 0; i < numVersions; i++ {
			if interrupt.IsCancelled(ctx) {
				return interrupt.ErrCanceled
			}
			next, err := tree.Copy()
			if err != nil {
				return err
			}
			if err := tree.Release(); err != nil {
				return err
			}
			tree = next
			for j := 0; j < updatesPerVersion; j++ {
				key := []byte(fmt.Sprintf("key-%d", rand.Intn(numKeys)))
				if rand.Float32() < removeRatio {
					if _, _, err := tree.Remove(key); err != nil {
						return err
					}
					continue
				}
				value := make([]byte, 8+rand.Intn(24))
				rand.Read(value)
				if err := tree.Put(key, value); err != nil {
					return err
				}
			}
			if _, err := tree.Hash(); err != nil {
				return err
			}
			progress.Step(1)
			if (i+1)%reportInterval == 0 {
				log.Printf("version %d: %d keys, memory %v, disk %.2f MiB",
					tree.Version(), tree.Size(), memoryAmount(lineage), float64(getDirectorySize(dir))/(1<<20))
			}
		}
		return nil
	}()

	if runErr == nil {
		hash, _ := tree.RootHash()
		log.Printf("final version %d with %d keys and root hash %v", tree.Version(), tree.Size(), hash)
	}
	return errors.Join(runErr, lineage.Close())
}

func memoryAmount(lineage *vtree.Lineage) string {
	return fmt.Sprintf("%.2f MiB", float64(lineage.GetMemoryFootprint().Total())/(1<<20))
}

// defaultCacheSize derives the size of record caches from the physical
// memory of the system.
func defaultCacheSize() int64 {
	total := memory.TotalMemory()
	if total == 0 {
		return ldb.DefaultCacheSize
	}
	return int64(total / 16)
}

// getDirectorySize computes the size of all files in the given directory in bytes.
func getDirectorySize(directory string) int64 {
	var sum int64 = 0
	filepath.Walk(directory, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			sum += info.Size()
		}
		return nil
	})
	return sum
}
