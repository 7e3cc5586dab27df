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
	"time"

	"github.com/Fantom-foundation/vmap/database/vtree"
	"github.com/Fantom-foundation/vmap/database/vtree/ldb"
	"github.com/urfave/cli/v2"
)

var Verify = cli.Command{
	Action:    addPerformanceDiagnoses(verify),
	Name:      "verify",
	Usage:     "verifies the consistency of the records and hashes of a virtual Merkle map",
	ArgsUsage: "<directory>",
}

func verify(context *cli.Context) error {
	// parse the directory argument
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing directory storing the map")
	}
	dir := context.Args().Get(0)

	source, err := ldb.Open(ldb.Config{Directory: dir, CacheSize: defaultCacheSize()})
	if err != nil {
		return err
	}
	observer := &verificationObserver{}
	return errors.Join(
		vtree.VerifySource(source, observer),
		source.Close(),
	)
}

type verificationObserver struct {
	start time.Time
}

func (o *verificationObserver) StartVerification() {
	o.start = time.Now()
	o.printHeader()
	fmt.Println("Starting verification ...")
}

func (o *verificationObserver) Progress(msg string) {
	o.printHeader()
	fmt.Println(msg)
}

func (o *verificationObserver) EndVerification(res error) {
	if res == nil {
		o.printHeader()
		fmt.Println("Verification successful!")
	}
}

func (o *verificationObserver) printHeader() {
	now := time.Now()
	t := uint64(now.Sub(o.start).Seconds())
	fmt.Printf("%s [t=%4d:%02d] - ", now.Format("15:04:05"), t/60, t%60)
}
