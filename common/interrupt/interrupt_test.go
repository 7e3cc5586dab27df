// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package interrupt

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestCancelOnInterrupt_CancelsContextWhenInterrupted(t *testing.T) {
	ctx := CancelOnInterrupt(context.Background())
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatal("failed to create a SIGINT signal")
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not canceled")
	}
}

func TestCancelOnInterrupt_ParentCancellationIsForwarded(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := CancelOnInterrupt(parent)
	if IsCancelled(ctx) {
		t.Fatal("context should not be canceled yet")
	}
	cancel()
	<-ctx.Done()
}

func TestIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if IsCancelled(ctx) {
		t.Fatal("context was not canceled but func returned true")
	}
	cancel()
	if !IsCancelled(ctx) {
		t.Fatalf("context was canceled but func returned false")
	}
}
