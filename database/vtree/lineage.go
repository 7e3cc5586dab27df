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
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/Fantom-foundation/vmap/common"
)

// Lineage manages the versions of a map sharing a single data source. It
// creates new versions, merges sealed versions into the data source using a
// background flusher and releases memory of versions no longer needed.
type Lineage struct {
	source DataSource
	config Config
	hasher *hasher
	log    *common.Log

	mutex       sync.Mutex
	progress    *sync.Cond // signaled whenever a layer got flushed or released
	layers      []*cacheLayer
	head        *Tree
	nextVersion uint64

	// flushMutex makes sure at most one flush is in progress.
	flushMutex sync.Mutex

	flushSignal chan struct{}
	shutdown    chan struct{}
	done        chan struct{}

	closed atomic.Bool
	failed atomic.Bool
	errs   []error
	errsMu sync.Mutex
}

// OpenLineage creates a lineage on top of the given data source. The
// returned tree is the latest version, reconstructed from the data source
// alone. The tree is hashed and may be copied to start modifications.
func OpenLineage(source DataSource, config Config) (*Lineage, *Tree, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config = config.withDefaults()

	first, last, err := source.LeafPathRange()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read leaf bounds: %w", ErrPersistence, err)
	}
	if (first == InvalidPath) != (last == InvalidPath) || first > last || (first != InvalidPath && (first < 1 || !last.IsValid())) {
		return nil, nil, fmt.Errorf("%w: invalid leaf bounds [%v,%v]", ErrCorruption, first, last)
	}
	root := common.Hash{}
	if last != InvalidPath {
		hash, found, err := source.LoadHash(RootPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: failed to read root hash: %w", ErrPersistence, err)
		}
		if !found {
			return nil, nil, fmt.Errorf("%w: missing root hash of non-empty tree", ErrCorruption)
		}
		root = hash
	}

	res := &Lineage{
		source:      source,
		config:      config,
		hasher:      newHasher(config.ChunkHeight, config.HashWorkers),
		log:         config.Log,
		flushSignal: make(chan struct{}, 1),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	res.progress = sync.NewCond(&res.mutex)

	// The opened version has no modifications and matches the data source.
	layer := newCacheLayer(0, nil)
	layer.refs.Store(1)
	layer.seal(first, last)
	layer.markFlushed()
	tree := newTree(res, 0, layer, first, last)
	tree.state = hashed
	tree.rootHash = root
	tree.dirty = nil
	res.layers = []*cacheLayer{layer}
	res.head = tree
	res.nextVersion = 1

	go res.runFlusher()
	return res, tree, nil
}

// runFlusher is the background goroutine merging sealed layers into the
// data source whenever signaled.
func (l *Lineage) runFlusher() {
	defer close(l.done)
	for {
		select {
		case <-l.shutdown:
			return
		case <-l.flushSignal:
			// Errors are recorded in the lineage and reported by CheckErrors.
			_ = l.flushAvailable()
		}
	}
}

func (l *Lineage) signalFlusher() {
	select {
	case l.flushSignal <- struct{}{}:
	default: // a flush is already pending
	}
}

// CheckErrors returns the errors encountered by background operations or
// detected corruptions. Once an error is recorded, the lineage is no longer
// usable.
func (l *Lineage) CheckErrors() error {
	l.errsMu.Lock()
	defer l.errsMu.Unlock()
	return errors.Join(l.errs...)
}

func (l *Lineage) recordError(err error) {
	l.errsMu.Lock()
	defer l.errsMu.Unlock()
	l.errs = append(l.errs, err)
	l.failed.Store(true)
}

func (l *Lineage) checkUsable() error {
	if l.closed.Load() {
		return ErrClosed
	}
	if l.failed.Load() {
		return l.CheckErrors()
	}
	return nil
}

// Config returns the effective configuration of this lineage.
func (l *Lineage) Config() Config {
	return l.config
}

// copy implements Tree.Copy.
func (l *Lineage) copy(t *Tree) (*Tree, error) {
	if _, err := t.Hash(); err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if err := t.checkReadable(); err != nil {
		return nil, err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.head != t {
		return nil, fmt.Errorf("%w: version %d", ErrNotLatest, t.version)
	}
	if err := l.awaitCapacity(); err != nil {
		return nil, err
	}

	layer := t.accessor.layer
	if !layer.isSealed() {
		layer.seal(t.accessor.first, t.accessor.last)
	}
	// A sealed version can no longer be discarded, so its predecessor does
	// not need to be retained for restoring the head.
	t.parent = nil
	older := layer
	if layer.isFlushed() {
		older = nil
	}
	next := newCacheLayer(l.nextVersion, older)
	next.refs.Store(1)
	res := newTree(l, l.nextVersion, next, t.accessor.first, t.accessor.last)
	res.parent = t
	l.nextVersion++
	l.layers = append(l.layers, next)
	l.head = res
	l.signalFlusher()
	return res, nil
}

// awaitCapacity blocks until the number of sealed, unflushed layers is below
// the configured limit. Waiting is only possible as long as the flusher can
// make progress; otherwise, or if configured to reject, ErrBackpressure is
// returned. Must be called while holding the lineage mutex.
func (l *Lineage) awaitCapacity() error {
	logged := false
	for l.countUnflushed() >= l.config.MaxUnflushedLayers {
		if err := l.checkUsable(); err != nil {
			return err
		}
		if l.config.RejectOnBackpressure {
			return ErrBackpressure
		}
		if l.nextFlushable() == nil {
			return fmt.Errorf("%w: flushing is blocked by versions still in use", ErrBackpressure)
		}
		if !logged {
			l.log.Printf("backpressure: %d versions waiting for being flushed", l.countUnflushed())
			logged = true
		}
		l.signalFlusher()
		l.progress.Wait()
	}
	return l.checkUsable()
}

func (l *Lineage) countUnflushed() int {
	count := 0
	for _, layer := range l.layers {
		if layer.isSealed() && !layer.isFlushed() {
			count++
		}
	}
	return count
}

// nextFlushable returns the next layer to be flushed, nil if there is none.
// Layers are flushed in version order. A layer may only be flushed once all
// older versions are released since those would otherwise observe its
// modifications through the data source. Must be called while holding the
// lineage mutex.
func (l *Lineage) nextFlushable() *cacheLayer {
	for i, layer := range l.layers {
		if layer.isFlushed() {
			continue
		}
		if !layer.isSealed() {
			return nil
		}
		for _, older := range l.layers[:i] {
			if older.refs.Load() > 0 {
				return nil
			}
		}
		return layer
	}
	return nil
}

// Flush merges all layers eligible for flushing into the data source and
// returns once done.
func (l *Lineage) Flush() error {
	if err := l.checkUsable(); err != nil {
		return err
	}
	return l.flushAvailable()
}

func (l *Lineage) flushAvailable() error {
	l.flushMutex.Lock()
	defer l.flushMutex.Unlock()
	for {
		if l.failed.Load() {
			return l.CheckErrors()
		}
		l.mutex.Lock()
		layer := l.nextFlushable()
		l.mutex.Unlock()
		if layer == nil {
			return nil
		}
		if err := l.flushLayer(layer); err != nil {
			l.recordError(err)
			l.mutex.Lock()
			l.progress.Broadcast()
			l.mutex.Unlock()
			return err
		}
	}
}

// flushLayer writes the given layer into the data source, retrying failed
// attempts, and detaches it from the chain.
func (l *Lineage) flushLayer(layer *cacheLayer) error {
	changes := layer.collectChanges()
	var errs []error
	for attempt := 0; attempt <= l.config.FlushRetries; attempt++ {
		if attempt > 0 {
			l.log.Printf("retrying flush of version %d (attempt %d of %d): %v", layer.version, attempt+1, l.config.FlushRetries+1, errs[len(errs)-1])
			time.Sleep(l.config.FlushRetryDelay)
		}
		err := l.source.SaveRecords(changes.first, changes.last, changes.hashes, changes.upserts, changes.deletes)
		if err == nil {
			errs = nil
			break
		}
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: failed to flush version %d: %w", ErrPersistence, layer.version, errors.Join(errs...))
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	layer.markFlushed()
	for i, cur := range l.layers {
		if cur != layer {
			continue
		}
		if i+1 < len(l.layers) {
			l.layers[i+1].next.Store(nil)
		}
		break
	}
	l.cleanup()
	l.progress.Broadcast()
	l.log.Printf("flushed version %d: %d leaves, %d hashes, %d deletions",
		layer.version, len(changes.upserts), len(changes.hashes), len(changes.deletes))
	return nil
}

// cleanup drops flushed or discarded layers no longer referenced by any
// version. Must be called while holding the lineage mutex.
func (l *Lineage) cleanup() {
	kept := l.layers[:0]
	for _, layer := range l.layers {
		if layer.refs.Load() == 0 && (layer.isFlushed() || !layer.isSealed()) {
			layer.reclaim()
			continue
		}
		kept = append(kept, layer)
	}
	for i := len(kept); i < len(l.layers); i++ {
		l.layers[i] = nil
	}
	l.layers = kept
}

// release implements Tree.Release.
func (l *Lineage) release(t *Tree) error {
	t.mutex.Lock()
	if t.state == released {
		t.mutex.Unlock()
		return ErrReleased
	}
	t.state = released
	t.released.Store(true)
	t.dirty = nil
	layer := t.accessor.layer
	parent := t.parent
	t.parent = nil
	t.mutex.Unlock()

	// Discarding the unsealed head restores its predecessor as the latest
	// version, which can then be copied again.
	if !layer.isSealed() {
		l.mutex.Lock()
		if l.head == t && parent != nil && !parent.released.Load() {
			l.head = parent
		}
		l.mutex.Unlock()
	}
	l.releaseLayer(layer)
	return nil
}

// releaseLayer drops a reference to the given layer. Layers of versions
// discarded before being copied are dropped right away, flushed layers are
// reclaimed once unreferenced.
func (l *Lineage) releaseLayer(layer *cacheLayer) {
	if layer.refs.Add(-1) > 0 {
		return
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.cleanup()
	l.progress.Broadcast()
	l.signalFlusher()
}

// Detach writes the full state of a hashed version into the destination
// data source and returns a read-only snapshot backed by it. The
// destination is expected to be empty and is owned by the snapshot.
func (l *Lineage) Detach(t *Tree, destination DataSource) (*Snapshot, error) {
	if err := l.checkUsable(); err != nil {
		return nil, err
	}

	t.mutex.RLock()
	if err := t.checkReadable(); err != nil {
		t.mutex.RUnlock()
		return nil, err
	}
	if t.state != hashed {
		t.mutex.RUnlock()
		return nil, t.check(fmt.Errorf("%w: version %d must be hashed to be detached, is %v", ErrContractViolation, t.version, t.state))
	}
	// Pin the version's layer for the duration of the transfer.
	accessor := t.accessor
	root := t.rootHash
	accessor.layer.refs.Add(1)
	t.mutex.RUnlock()
	defer l.releaseLayer(accessor.layer)

	if err := detachInto(&accessor, destination); err != nil {
		return nil, t.check(err)
	}
	return newSnapshot(destination, accessor.first, accessor.last, root), nil
}

// detachBatchSize is the number of leaves written per SaveRecords call when
// detaching a version.
const detachBatchSize = 1 << 14

func detachInto(acc *recordAccessor, destination DataSource) error {
	first, last := acc.first, acc.last
	if last == InvalidPath {
		return destination.SaveRecords(InvalidPath, InvalidPath, nil, nil, nil)
	}

	var hashes []HashRecord
	var leaves []LeafRecord
	flush := func() error {
		if len(hashes) == 0 && len(leaves) == 0 {
			return nil
		}
		if err := destination.SaveRecords(first, last, hashes, leaves, nil); err != nil {
			return fmt.Errorf("%w: failed to write detached records: %w", ErrPersistence, err)
		}
		hashes, leaves = hashes[:0], leaves[:0]
		return nil
	}

	for path := RootPath; path < first; path++ {
		hash, found, err := acc.FindHash(path)
		if err != nil {
			return err
		}
		if found && !hash.IsZero() {
			hashes = append(hashes, HashRecord{Path: path, Hash: hash})
		}
		if len(hashes) >= detachBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	for path := first; path <= last; path++ {
		record, found, err := acc.FindLeafByPath(path, false)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: missing leaf at path %v", ErrCorruption, path)
		}
		leaves = append(leaves, record)
		hashes = append(hashes, HashRecord{Path: path, Hash: record.Hash})
		if len(leaves) >= detachBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// Close stops the background flusher, flushes all eligible versions and
// closes the data source. Versions of the lineage become unusable.
func (l *Lineage) Close() error {
	if l.closed.Swap(true) {
		return ErrClosed
	}
	close(l.shutdown)
	<-l.done

	// A hashed head no longer changes and is persisted along with its
	// predecessors.
	l.mutex.Lock()
	head := l.head
	l.mutex.Unlock()
	head.mutex.Lock()
	if layer := head.accessor.layer; head.state == hashed && !layer.isSealed() {
		layer.seal(head.accessor.first, head.accessor.last)
	}
	head.mutex.Unlock()

	// Flush failures are recorded and reported by CheckErrors.
	_ = l.flushAvailable()
	closeErr := l.source.Close()
	l.mutex.Lock()
	l.progress.Broadcast()
	l.mutex.Unlock()
	return errors.Join(l.CheckErrors(), closeErr)
}

func (l *Lineage) GetMemoryFootprint() *common.MemoryFootprint {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	res := common.NewMemoryFootprint(unsafe.Sizeof(*l))
	for _, layer := range l.layers {
		res.AddChild(fmt.Sprintf("layer-%d", layer.version), layer.GetMemoryFootprint())
	}
	res.AddChild("source", l.source.GetMemoryFootprint())
	return res
}
