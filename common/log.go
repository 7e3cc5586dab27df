// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Log is a logger prefixing messages with the time elapsed since its
// creation and the name of the component producing the message.
type Log struct {
	start     time.Time
	component string
	logger    *log.Logger
}

// NewLog creates a logger writing to the given writer. A nil writer
// defaults to stderr.
func NewLog(out io.Writer, component string) *Log {
	if out == nil {
		out = os.Stderr
	}
	return &Log{
		start:     time.Now(),
		component: component,
		logger:    log.New(out, "", log.LstdFlags),
	}
}

// NewNopLog creates a logger discarding all messages.
func NewNopLog() *Log {
	return NewLog(io.Discard, "")
}

// Named derives a logger for a sub-component sharing the start time and
// output of this logger.
func (l *Log) Named(component string) *Log {
	name := component
	if l.component != "" {
		name = l.component + "/" + component
	}
	return &Log{start: l.start, component: name, logger: l.logger}
}

// Print logs a message including the elapsed time.
func (l *Log) Print(msg string) {
	t := uint64(time.Since(l.start).Seconds())
	if l.component == "" {
		l.logger.Printf("[t=%4d:%02d] - %s\n", t/60, t%60, msg)
		return
	}
	l.logger.Printf("[t=%4d:%02d] %s - %s\n", t/60, t%60, l.component, msg)
}

// Printf logs a formatted message including the elapsed time.
func (l *Log) Printf(format string, v ...any) {
	l.Print(fmt.Sprintf(format, v...))
}

// ProgressLogger is a logger that tracks the progress of a task.
// It logs the progress at regular intervals configured when creating it.
type ProgressLogger struct {
	log            *Log
	start          time.Time
	format         string
	window         int
	counter, steps int
}

// NewProgressTracker creates a new ProgressLogger printing the given format
// with the current count and rate every window steps.
func (l *Log) NewProgressTracker(format string, window int) *ProgressLogger {
	return &ProgressLogger{log: l, start: time.Now(), format: format, window: window}
}

// Step increments the progress counter by the given number of steps.
func (p *ProgressLogger) Step(increment int) {
	p.counter += increment
	p.steps += increment

	if p.steps >= p.window {
		now := time.Now()
		count := p.counter / p.window * p.window // round down to the nearest window size
		p.log.Printf(p.format, count, float64(p.steps)/now.Sub(p.start).Seconds())
		p.steps = 0
		p.start = now
	}
}

// GetCounter returns the current value of the progress counter.
func (p *ProgressLogger) GetCounter() int {
	return p.counter
}
