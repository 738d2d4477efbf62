// internal/chain/watcher_test.go
package chain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subGateway hands the watcher its header callbacks so tests can push
// headers directly, and counts subscription teardowns.
type subGateway struct {
	Gateway

	heads     HeaderFunc
	finalized HeaderFunc
	cancels   int
}

func (g *subGateway) SubscribeNewHeads(ctx context.Context, fn HeaderFunc) (CancelFunc, error) {
	g.heads = fn
	return func() { g.cancels++ }, nil
}

func (g *subGateway) SubscribeFinalizedHeads(ctx context.Context, fn HeaderFunc) (CancelFunc, error) {
	g.finalized = fn
	return func() { g.cancels++ }, nil
}

func newTestWatcher(t *testing.T) (*Watcher, *subGateway) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	w := NewWatcher(log)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }
	gw := &subGateway{}
	require.NoError(t, w.Start(context.Background(), gw))
	return w, gw
}

func TestWatcherWindowNewestFirstAndCapped(t *testing.T) {
	w, gw := newTestWatcher(t)

	for i := 1; i <= WindowSize+20; i++ {
		gw.heads(Header{Number: uint64(i), Hash: fmt.Sprintf("0x%04x", i)})
	}

	window := w.Window()
	require.Len(t, window, WindowSize)
	assert.Equal(t, uint64(WindowSize+20), window[0].Number, "newest first")
	assert.Equal(t, uint64(21), window[len(window)-1].Number, "oldest evicted")
}

func TestWatcherDuplicateHeadersIgnored(t *testing.T) {
	w, gw := newTestWatcher(t)
	gw.heads(Header{Number: 5, Hash: "0xa"})
	gw.heads(Header{Number: 5, Hash: "0xa"})
	assert.Len(t, w.Window(), 1)
}

func TestWatcherForkReplacesBlockAtSameHeight(t *testing.T) {
	w, gw := newTestWatcher(t)
	var seen []string
	w.OnBlock(func(b BlockInfo) { seen = append(seen, b.Hash) })

	gw.heads(Header{Number: 5, Hash: "0xa"})
	gw.heads(Header{Number: 5, Hash: "0xb"}) // fork took height 5

	window := w.Window()
	require.Len(t, window, 1)
	assert.Equal(t, "0xb", window[0].Hash)
	assert.Equal(t, []string{"0xa", "0xb"}, seen, "the replacement fires the callback")
}

func TestWatcherFinalizedMarking(t *testing.T) {
	w, gw := newTestWatcher(t)
	for i := 1; i <= 5; i++ {
		gw.heads(Header{Number: uint64(i)})
	}
	gw.finalized(Header{Number: 3})

	for _, b := range w.Window() {
		assert.Equal(t, b.Number <= 3, b.Finalized, "block %d", b.Number)
	}
	assert.Equal(t, uint64(3), w.FinalizedNumber())

	// A block arriving below the watermark is finalized immediately.
	gw.heads(Header{Number: 2}) // duplicate, ignored
	w2, gw2 := newTestWatcher(t)
	gw2.finalized(Header{Number: 10})
	gw2.heads(Header{Number: 7})
	require.Len(t, w2.Window(), 1)
	assert.True(t, w2.Window()[0].Finalized)
}

func TestWatcherOnBlockCallback(t *testing.T) {
	w, gw := newTestWatcher(t)
	var seen []uint64
	w.OnBlock(func(b BlockInfo) { seen = append(seen, b.Number) })

	gw.heads(Header{Number: 1})
	gw.heads(Header{Number: 2})
	gw.heads(Header{Number: 2}) // duplicate must not re-fire
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestWatcherRestartTearsDownPreviousSubscriptions(t *testing.T) {
	w, gw := newTestWatcher(t)
	require.NoError(t, w.Start(context.Background(), gw))
	assert.Equal(t, 2, gw.cancels, "restart must cancel both prior subscriptions")

	w.Stop()
	assert.Equal(t, 4, gw.cancels)
	w.Stop()
	assert.Equal(t, 4, gw.cancels, "stop is idempotent")
}
