// internal/chain/watcher.go
package chain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WindowSize bounds how many recent block headers the watcher retains.
const WindowSize = 50

// BlockInfo is one block in the watcher's sliding window.
type BlockInfo struct {
	Number    uint64
	Hash      string
	SeenAt    time.Time
	Finalized bool
}

// Watcher keeps a sliding window of the most recent block headers with local
// arrival timestamps, and marks blocks finalized as the finalized-head stream
// advances. Purely informational: nothing downstream makes gameplay decisions
// from it.
type Watcher struct {
	log *logrus.Logger
	now func() time.Time

	mu            sync.Mutex
	window        []BlockInfo
	finalizedUpTo uint64
	onBlock       func(BlockInfo)
	cancelHeads   CancelFunc
	cancelFinal   CancelFunc
}

// NewWatcher creates an empty watcher.
func NewWatcher(log *logrus.Logger) *Watcher {
	if log == nil {
		log = logrus.New()
	}
	return &Watcher{log: log, now: time.Now}
}

// OnBlock registers a callback fired for every newly observed best block.
func (w *Watcher) OnBlock(fn func(BlockInfo)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onBlock = fn
}

// Start subscribes to the best and finalized head streams. Any previous
// subscriptions are torn down first so no two of the same kind coexist.
func (w *Watcher) Start(ctx context.Context, gw Gateway) error {
	w.Stop()

	cancelHeads, err := gw.SubscribeNewHeads(ctx, w.handleHead)
	if err != nil {
		return err
	}
	cancelFinal, err := gw.SubscribeFinalizedHeads(ctx, w.handleFinalized)
	if err != nil {
		cancelHeads()
		return err
	}

	w.mu.Lock()
	w.cancelHeads = cancelHeads
	w.cancelFinal = cancelFinal
	w.mu.Unlock()
	return nil
}

// Stop tears down the active subscriptions, if any.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancelHeads, cancelFinal := w.cancelHeads, w.cancelFinal
	w.cancelHeads, w.cancelFinal = nil, nil
	w.mu.Unlock()

	if cancelHeads != nil {
		cancelHeads()
	}
	if cancelFinal != nil {
		cancelFinal()
	}
}

// handleHead folds a best-block header into the window. A header repeating a
// known (number, hash) pair is a duplicate notification; the same number with
// a different hash means a fork replaced that height, and the entry is
// updated in place.
func (w *Watcher) handleHead(h Header) {
	w.mu.Lock()
	for i, b := range w.window {
		if b.Number != h.Number {
			continue
		}
		if b.Hash == h.Hash {
			w.mu.Unlock()
			return // duplicate notification
		}
		w.window[i].Hash = h.Hash
		w.window[i].SeenAt = w.now()
		w.window[i].Finalized = h.Number <= w.finalizedUpTo
		block := w.window[i]
		onBlock := w.onBlock
		w.mu.Unlock()
		if onBlock != nil {
			onBlock(block)
		}
		return
	}

	block := BlockInfo{
		Number:    h.Number,
		Hash:      h.Hash,
		SeenAt:    w.now(),
		Finalized: h.Number <= w.finalizedUpTo,
	}
	w.window = append(w.window, block)
	sort.Slice(w.window, func(i, j int) bool {
		return w.window[i].Number > w.window[j].Number
	})
	if len(w.window) > WindowSize {
		w.window = w.window[:WindowSize]
	}
	onBlock := w.onBlock
	w.mu.Unlock()

	if onBlock != nil {
		onBlock(block)
	}
}

// handleFinalized advances the finalized watermark and re-marks the window.
func (w *Watcher) handleFinalized(h Header) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h.Number < w.finalizedUpTo {
		return
	}
	w.finalizedUpTo = h.Number
	for i := range w.window {
		if w.window[i].Number <= w.finalizedUpTo {
			w.window[i].Finalized = true
		}
	}
}

// Window returns a newest-first copy of the current block window.
func (w *Watcher) Window() []BlockInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]BlockInfo, len(w.window))
	copy(out, w.window)
	return out
}

// FinalizedNumber returns the highest finalized block number seen.
func (w *Watcher) FinalizedNumber() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalizedUpTo
}
