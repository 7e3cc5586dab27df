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

	"github.com/Fantom-foundation/vmap/database/vtree"
	"github.com/Fantom-foundation/vmap/database/vtree/ldb"
	"github.com/urfave/cli/v2"
)

var Info = cli.Command{
	Action: info,
	Name:   "info",
	Usage:  "lists information about a LevelDB data source of a virtual Merkle map",
	Flags: []cli.Flag{
		&memoryFlag,
	},
	ArgsUsage: "<directory>",
}

var (
	memoryFlag = cli.BoolFlag{
		Name:  "memory",
		Usage: "print the memory footprint of the opened data source",
	}
)

func info(context *cli.Context) error {
	// parse the directory argument
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing directory storing the map")
	}
	dir := context.Args().Get(0)

	source, err := ldb.Open(ldb.Config{Directory: dir})
	if err != nil {
		return err
	}
	snapshot, err := vtree.OpenSnapshot(source)
	if err != nil {
		return errors.Join(err, source.Close())
	}
	first, last, err := source.LeafPathRange()
	if err != nil {
		return errors.Join(err, snapshot.Close())
	}

	fmt.Printf("Directory contains a virtual Merkle map with the following properties:\n")
	fmt.Printf("\tNumber of keys:    %d\n", snapshot.Size())
	if snapshot.Size() == 0 {
		fmt.Printf("\tLeaf paths:        none\n")
	} else {
		fmt.Printf("\tLeaf paths:        [%v, %v]\n", first, last)
	}
	fmt.Printf("\tRoot hash:         %v\n", snapshot.RootHash())
	if context.Bool(memoryFlag.Name) {
		fmt.Printf("\nMemory footprint:\n%v\n", source.GetMemoryFootprint())
	}

	if err := snapshot.Close(); err != nil {
		return fmt.Errorf("error closing data source: %v", err)
	}
	return nil
}
