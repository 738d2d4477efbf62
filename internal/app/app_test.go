// internal/app/app_test.go
package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandreim/tictactoe3/internal/account"
	"github.com/sandreim/tictactoe3/internal/chain"
	"github.com/sandreim/tictactoe3/internal/store"
	"github.com/sandreim/tictactoe3/internal/tx"
)

type fakeGateway struct {
	mu sync.Mutex

	gameID uint32
	game   *chain.GameRecord

	inQueue bool

	submitErr   error
	lastAction  chain.ActionDescriptor
	statusFn    chain.StatusFunc
	cancelCount int

	eventFn chain.EventFunc

	// fired synchronously inside Submit, before the cancel func is returned
	immediateStatus []chain.SubmissionUpdate
}

func (f *fakeGateway) ActiveGame(ctx context.Context, identity string) (uint32, *chain.GameRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.game == nil {
		return 0, nil, nil
	}
	cp := *f.game
	return f.gameID, &cp, nil
}

func (f *fakeGateway) AccountInfo(ctx context.Context, identity string) (chain.AccountInfo, error) {
	return chain.AccountInfo{}, nil
}

func (f *fakeGateway) Submit(ctx context.Context, action chain.ActionDescriptor, cred chain.Credential, onStatus chain.StatusFunc) (chain.CancelFunc, error) {
	f.mu.Lock()
	f.lastAction = action
	f.statusFn = onStatus
	immediate := f.immediateStatus
	err := f.submitErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, up := range immediate {
		onStatus(up)
	}
	return func() {
		f.mu.Lock()
		f.cancelCount++
		f.mu.Unlock()
	}, nil
}

func (f *fakeGateway) SubscribeNewHeads(ctx context.Context, fn chain.HeaderFunc) (chain.CancelFunc, error) {
	return func() {}, nil
}

func (f *fakeGateway) SubscribeFinalizedHeads(ctx context.Context, fn chain.HeaderFunc) (chain.CancelFunc, error) {
	return func() {}, nil
}

func (f *fakeGateway) SubscribeEvents(ctx context.Context, fn chain.EventFunc) (chain.CancelFunc, error) {
	f.mu.Lock()
	f.eventFn = fn
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeGateway) QueueMembership(ctx context.Context, identity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inQueue, nil
}

func (f *fakeGateway) cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCount
}

func (f *fakeGateway) pushStatus(up chain.SubmissionUpdate) {
	f.mu.Lock()
	fn := f.statusFn
	f.mu.Unlock()
	fn(up)
}

func (f *fakeGateway) pushEvent(ev chain.Event) {
	f.mu.Lock()
	fn := f.eventFn
	f.mu.Unlock()
	fn(ev)
}

type memStore struct {
	mu    sync.Mutex
	snap  store.Snapshot
	found bool
	saves int
}

func (m *memStore) Save(ctx context.Context, snap store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.found = true
	m.saves++
	return nil
}

func (m *memStore) Load(ctx context.Context) (store.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.found, nil
}

func (m *memStore) Close() error { return nil }

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestApp(t *testing.T, gw *fakeGateway, st store.Store) (*App, string) {
	t.Helper()
	log := quietLog()
	acct := account.NewManager(gw, log)
	addr, err := acct.FromSeed("test seed phrase")
	require.NoError(t, err)
	return New(gw, acct, st, log), addr
}

func TestMakeMoveRejectsWithoutGame(t *testing.T) {
	gw := &fakeGateway{}
	a, _ := newTestApp(t, gw, nil)

	err := a.MakeMove(context.Background(), 4)
	assert.ErrorContains(t, err, "no active game")
}

func TestMakeMoveRejectsBadPositions(t *testing.T) {
	gw := &fakeGateway{}
	a, addr := newTestApp(t, gw, nil)

	gw.gameID = 7
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "opponent", XTurn: true}
	_, err := a.session.Refresh(context.Background())
	require.NoError(t, err)

	assert.Error(t, a.MakeMove(context.Background(), -1))
	assert.Error(t, a.MakeMove(context.Background(), 9))

	gw.game.Board[4] = chain.CellO
	_, err = a.session.Refresh(context.Background())
	require.NoError(t, err)
	assert.ErrorContains(t, a.MakeMove(context.Background(), 4), "taken")
}

func TestMakeMoveRoutesStatusesAndTearsDownAtInBlock(t *testing.T) {
	gw := &fakeGateway{}
	a, addr := newTestApp(t, gw, nil)
	defer a.countdown.Stop()

	gw.gameID = 7
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "opponent", XTurn: true}
	_, err := a.session.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.MakeMove(context.Background(), 4))
	assert.Equal(t, "ticTacToe.makeMove", gw.lastAction.Call)
	assert.Equal(t, []any{uint32(7), 4}, gw.lastAction.Args)

	gw.pushStatus(chain.SubmissionUpdate{Status: chain.StatusReady, Hash: "0xaa"})
	gw.pushStatus(chain.SubmissionUpdate{Status: chain.StatusBroadcast, Hash: "0xaa"})
	assert.Equal(t, 0, gw.cancels())

	gw.pushStatus(chain.SubmissionUpdate{Status: chain.StatusInBlock, Hash: "0xaa", BlockRef: "0xblock"})

	history := a.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, tx.StatusInBlock, history[0].Status)
	assert.Equal(t, "0xaa", history[0].Hash)
	assert.Equal(t, "0xblock", history[0].BlockRef)

	// Move subscriptions end at InBlock, and the reply countdown begins.
	assert.Equal(t, 1, gw.cancels())
	assert.True(t, a.countdown.Running())
}

func TestMoveDispatchErrorFailsRecordWithoutCountdown(t *testing.T) {
	gw := &fakeGateway{}
	a, addr := newTestApp(t, gw, nil)

	gw.gameID = 7
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "opponent", XTurn: true}
	_, err := a.session.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.MakeMove(context.Background(), 0))
	gw.pushStatus(chain.SubmissionUpdate{
		Status:      chain.StatusInBlock,
		Hash:        "0xaa",
		BlockRef:    "0xblock",
		DispatchErr: &chain.DispatchError{Section: "ticTacToe", Name: "NotYourTurn"},
	})

	history := a.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, tx.StatusFailed, history[0].Status)
	assert.False(t, a.countdown.Running())
	assert.Equal(t, 1, gw.cancels())
}

func TestClaimTimeoutTearsDownAtFinalized(t *testing.T) {
	gw := &fakeGateway{}
	a, addr := newTestApp(t, gw, nil)

	gw.gameID = 3
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "opponent", XTurn: false}
	_, err := a.session.Refresh(context.Background())
	require.NoError(t, err)
	a.countdown.Stop()

	require.NoError(t, a.ClaimTimeout(context.Background()))
	assert.Equal(t, "ticTacToe.claimTimeout", gw.lastAction.Call)

	gw.pushStatus(chain.SubmissionUpdate{Status: chain.StatusInBlock, Hash: "0xcc", BlockRef: "0xb1"})
	assert.Equal(t, 0, gw.cancels())

	gw.pushStatus(chain.SubmissionUpdate{Status: chain.StatusFinalized, Hash: "0xcc", BlockRef: "0xb2"})
	assert.Equal(t, 1, gw.cancels())

	history := a.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, tx.StatusFinalized, history[0].Status)
	assert.Equal(t, "0xb2", history[0].FinalizedRef)
}

func TestTerminalStatusBeforeCancelArmsTearsDownOnce(t *testing.T) {
	gw := &fakeGateway{
		immediateStatus: []chain.SubmissionUpdate{
			{Status: chain.StatusInvalid, Hash: "0xdd"},
		},
	}
	a, addr := newTestApp(t, gw, nil)

	gw.gameID = 3
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "opponent", XTurn: true}
	_, err := a.session.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.MakeMove(context.Background(), 1))
	assert.Equal(t, 1, gw.cancels())

	history := a.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, tx.StatusInvalid, history[0].Status)
}

func TestSubmitRejectionMarksInvalid(t *testing.T) {
	gw := &fakeGateway{submitErr: errors.New("1010: invalid transaction")}
	a, addr := newTestApp(t, gw, nil)

	gw.gameID = 3
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "opponent", XTurn: true}
	_, err := a.session.Refresh(context.Background())
	require.NoError(t, err)

	err = a.MakeMove(context.Background(), 1)
	assert.ErrorContains(t, err, "1010")

	history := a.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, tx.StatusInvalid, history[0].Status)
	assert.Contains(t, history[0].StatusText, "1010")
}

func TestJoinQueueClearsOnOwnGameCreated(t *testing.T) {
	gw := &fakeGateway{}
	a, addr := newTestApp(t, gw, nil)
	defer a.countdown.Stop()

	require.NoError(t, a.Start(context.Background()))
	defer a.Close(context.Background())

	require.NoError(t, a.JoinQueue(context.Background()))
	assert.Equal(t, "ticTacToe.playGame", gw.lastAction.Call)
	assert.True(t, a.queue.InQueue())

	// Someone else's game leaves us queued.
	gw.pushEvent(chain.Event{Kind: chain.EventGameCreated, GameID: 9, PlayerX: "alice", PlayerO: "bob"})
	assert.True(t, a.queue.InQueue())

	gw.gameID = 10
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "alice", XTurn: true}
	gw.pushEvent(chain.Event{Kind: chain.EventGameCreated, GameID: 10, PlayerX: addr, PlayerO: "alice"})
	assert.False(t, a.queue.InQueue())

	snap := a.session.Snapshot()
	assert.True(t, snap.HasGame)
	assert.Equal(t, uint32(10), snap.GameID)
}

func TestCountdownFollowsTurns(t *testing.T) {
	gw := &fakeGateway{}
	a, addr := newTestApp(t, gw, nil)
	defer a.countdown.Stop()

	// Opponent to move: countdown runs.
	gw.gameID = 5
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "opponent", XTurn: false}
	_, err := a.session.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, a.countdown.Running())

	// Our move: countdown stops.
	gw.game.XTurn = true
	_, err = a.session.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, a.countdown.Running())
}

func TestGameResultTalliedOncePerGame(t *testing.T) {
	gw := &fakeGateway{}
	st := &memStore{}
	a, addr := newTestApp(t, gw, st)
	defer a.countdown.Stop()

	gw.gameID = 5
	gw.game = &chain.GameRecord{PlayerX: addr, PlayerO: "opponent", XTurn: true}
	_, err := a.session.Refresh(context.Background())
	require.NoError(t, err)

	gw.game.State = chain.OutcomeXWon
	_, err = a.session.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Tally{XWins: 1}, a.Tally())

	// Re-observing the same finished game counts nothing new.
	_, err = a.session.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Tally{XWins: 1}, a.Tally())

	st.mu.Lock()
	saves := st.saves
	tally := st.snap.Tally
	st.mu.Unlock()
	assert.Equal(t, 1, saves)
	assert.Equal(t, store.Tally{XWins: 1}, tally)
}

func TestStartRestoresSnapshot(t *testing.T) {
	gw := &fakeGateway{}
	restored := uuid.New()
	st := &memStore{
		found: true,
		snap: store.Snapshot{
			Records: []tx.Record{
				{ID: restored, Kind: "game_move", Status: tx.StatusFinalized},
			},
			Tally:   store.Tally{XWins: 2, Draws: 1},
			SavedAt: time.Now(),
		},
	}
	a, _ := newTestApp(t, gw, st)

	require.NoError(t, a.Start(context.Background()))
	defer a.Close(context.Background())

	history := a.tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, restored, history[0].ID)
	assert.Equal(t, store.Tally{XWins: 2, Draws: 1}, a.Tally())
}

func TestClosePersistsSnapshot(t *testing.T) {
	gw := &fakeGateway{}
	st := &memStore{}
	a, _ := newTestApp(t, gw, st)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.True(t, st.found)
	assert.False(t, st.snap.SavedAt.IsZero())
}
