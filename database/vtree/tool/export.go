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
	"os"

	"github.com/Fantom-foundation/vmap/common"
	"github.com/Fantom-foundation/vmap/database/vtree"
	"github.com/Fantom-foundation/vmap/database/vtree/ldb"
	"github.com/Fantom-foundation/vmap/database/vtree/sqlite"
	"github.com/urfave/cli/v2"
)

var Export = cli.Command{
	Action:    addPerformanceDiagnoses(doExport),
	Name:      "export",
	Usage:     "exports the latest version of a virtual Merkle map into a SQLite file",
	ArgsUsage: "<directory> <target-file>",
}

func doExport(context *cli.Context) error {
	if context.Args().Len() != 2 {
		return fmt.Errorf("missing directory and/or target file parameter")
	}
	dir := context.Args().Get(0)
	trg := context.Args().Get(1)

	if _, err := os.Stat(trg); err == nil {
		return fmt.Errorf("target file %s already exists", trg)
	}

	log := common.NewLog(os.Stdout, "export")
	log.Print("export started")

	source, err := ldb.Open(ldb.Config{Directory: dir, CacheSize: defaultCacheSize()})
	if err != nil {
		return err
	}
	config := vtree.DefaultConfig
	config.Log = log.Named("lineage")
	lineage, tree, err := vtree.OpenLineage(source, config)
	if err != nil {
		return errors.Join(err, source.Close())
	}

	target, err := sqlite.Open(sqlite.Config{File: trg})
	if err != nil {
		return errors.Join(err, lineage.Close())
	}
	snapshot, err := lineage.Detach(tree, target)
	if err != nil {
		return errors.Join(err, target.Close(), lineage.Close())
	}
	log.Printf("exported %d keys with root hash %v", snapshot.Size(), snapshot.RootHash())

	if err := errors.Join(snapshot.Close(), tree.Release(), lineage.Close()); err != nil {
		return err
	}
	log.Print("export done")
	return nil
}
