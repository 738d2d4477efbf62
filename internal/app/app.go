// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandreim/tictactoe3/internal/account"
	"github.com/sandreim/tictactoe3/internal/chain"
	"github.com/sandreim/tictactoe3/internal/game"
	"github.com/sandreim/tictactoe3/internal/matchmaking"
	"github.com/sandreim/tictactoe3/internal/store"
	"github.com/sandreim/tictactoe3/internal/timeout"
	"github.com/sandreim/tictactoe3/internal/tx"
)

// Ledger call names for game actions.
const (
	callMakeMove     = "ticTacToe.makeMove"
	callClaimTimeout = "ticTacToe.claimTimeout"
)

// App composes the session, tracker, countdown, matchmaking and persistence
// into the running client. It owns the glue the pieces deliberately don't:
// starting and stopping the countdown on turn flips, routing submission
// status into the tracker, and tallying finished games.
type App struct {
	log       *logrus.Logger
	gw        chain.Gateway
	acct      *account.Manager
	session   *game.Session
	tracker   *tx.Tracker
	countdown *timeout.Controller
	queue     *matchmaking.Coordinator
	watcher   *chain.Watcher
	store     store.Store

	mu           sync.Mutex
	tally        store.Tally
	tallied      map[uint32]bool
	cancelEvents chain.CancelFunc
}

// New assembles an app for an already-loaded account. The store may be nil,
// in which case nothing is persisted.
func New(gw chain.Gateway, acct *account.Manager, st store.Store, log *logrus.Logger) *App {
	if log == nil {
		log = logrus.New()
	}
	identity := acct.Address()
	a := &App{
		log:       log,
		gw:        gw,
		acct:      acct,
		session:   game.NewSession(gw, identity, log),
		tracker:   tx.NewTracker(log),
		countdown: timeout.NewController(log),
		queue:     matchmaking.NewCoordinator(gw, identity, log),
		watcher:   chain.NewWatcher(log),
		store:     st,
		tallied:   make(map[uint32]bool),
	}
	a.session.OnChange(a.onSessionChange)
	return a
}

// Session exposes the game synchronizer for observer registration.
func (a *App) Session() *game.Session { return a.session }

// Tracker exposes the transaction tracker for observer registration.
func (a *App) Tracker() *tx.Tracker { return a.tracker }

// Countdown exposes the turn-timeout controller for observer registration.
func (a *App) Countdown() *timeout.Controller { return a.countdown }

// Queue exposes the matchmaking coordinator.
func (a *App) Queue() *matchmaking.Coordinator { return a.queue }

// Watcher exposes the block window watcher.
func (a *App) Watcher() *chain.Watcher { return a.watcher }

// Tally returns the current win/loss/draw counts.
func (a *App) Tally() store.Tally {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tally
}

// Start restores persisted state, subscribes to chain streams and pulls the
// initial game state.
func (a *App) Start(ctx context.Context) error {
	if a.store != nil {
		snap, found, err := a.store.Load(ctx)
		if err != nil {
			a.log.WithError(err).Warn("could not restore snapshot, starting fresh")
		} else if found {
			a.tracker.Restore(snap.Records)
			a.mu.Lock()
			a.tally = snap.Tally
			a.mu.Unlock()
			a.log.WithField("records", len(snap.Records)).Info("snapshot restored")
		}
	}

	if err := a.watcher.Start(ctx, a.gw); err != nil {
		return fmt.Errorf("subscribe block heads: %w", err)
	}

	cancelEvents, err := a.gw.SubscribeEvents(ctx, func(ev chain.Event) {
		a.handleEvent(ctx, ev)
	})
	if err != nil {
		a.watcher.Stop()
		return fmt.Errorf("subscribe events: %w", err)
	}
	a.mu.Lock()
	a.cancelEvents = cancelEvents
	a.mu.Unlock()

	// Pick up an in-flight game and the real queue state from the ledger.
	if _, err := a.session.Refresh(ctx); err != nil {
		a.log.WithError(err).Warn("initial game lookup failed")
	}
	if _, err := a.queue.Sync(ctx); err != nil {
		a.log.WithError(err).Warn("initial queue lookup failed")
	}
	return nil
}

// Close stops the countdown, tears down subscriptions and persists a final
// snapshot.
func (a *App) Close(ctx context.Context) error {
	a.countdown.Stop()
	a.watcher.Stop()

	a.mu.Lock()
	cancelEvents := a.cancelEvents
	a.cancelEvents = nil
	a.mu.Unlock()
	if cancelEvents != nil {
		cancelEvents()
	}

	return a.persist(ctx)
}

// MakeMove validates a move locally and submits it. The countdown for the
// opponent's reply starts once the move lands in a block.
func (a *App) MakeMove(ctx context.Context, pos int) error {
	if pos < 0 || pos > 8 {
		return fmt.Errorf("position %d out of range", pos)
	}
	snap := a.session.Snapshot()
	if !snap.HasGame || !snap.Active {
		return fmt.Errorf("no active game")
	}
	if snap.Board[pos] != chain.CellEmpty {
		return fmt.Errorf("cell %d is already taken", pos)
	}

	action := chain.ActionDescriptor{Call: callMakeMove, Args: []any{snap.GameID, pos}}
	rec := a.tracker.NewRecord("game_move", a.acct.Address(),
		fmt.Sprintf("Game #%d", snap.GameID), fmt.Sprintf("Move at [%d]", pos))
	a.tracker.Commit(rec)

	// A move carries no funds: stop listening at InBlock.
	return a.submit(ctx, action, rec, chain.StatusInBlock, func(up chain.SubmissionUpdate) {
		if up.Status == chain.StatusInBlock && up.DispatchErr == nil {
			a.countdown.Start()
		}
	})
}

// ClaimTimeout submits the forfeit claim for the current game. Caller is
// responsible for user confirmation; this only runs the submission.
func (a *App) ClaimTimeout(ctx context.Context) error {
	snap := a.session.Snapshot()
	if !snap.HasGame {
		return fmt.Errorf("no active game")
	}

	action := chain.ActionDescriptor{Call: callClaimTimeout, Args: []any{snap.GameID}}
	rec := a.tracker.NewRecord("claim_timeout", a.acct.Address(),
		fmt.Sprintf("Game #%d", snap.GameID), "Claim Timeout Victory")
	a.tracker.Commit(rec)

	a.countdown.Stop()

	// The claim moves the staked win: keep the subscription until Finalized.
	return a.submit(ctx, action, rec, chain.StatusFinalized, nil)
}

// JoinQueue submits the matchmaking join action.
func (a *App) JoinQueue(ctx context.Context) error {
	action := a.queue.JoinQueue()
	rec := a.tracker.NewRecord("matchmaking", a.acct.Address(), "Matchmaking", "Start Game")
	a.tracker.Commit(rec)
	return a.submit(ctx, action, rec, chain.StatusInBlock, nil)
}

// CancelQueue submits the matchmaking cancel action.
func (a *App) CancelQueue(ctx context.Context) error {
	action := a.queue.CancelQueue()
	rec := a.tracker.NewRecord("matchmaking", a.acct.Address(), "Matchmaking", "Cancel Matchmaking")
	a.tracker.Commit(rec)
	return a.submit(ctx, action, rec, chain.StatusInBlock, nil)
}

// ResetGame clears the local session and stops the countdown.
func (a *App) ResetGame() {
	a.countdown.Stop()
	a.session.Reset()
}

// submissionHandle guarantees exactly-once teardown even when a terminal
// status arrives before Submit has returned the cancel func.
type submissionHandle struct {
	mu       sync.Mutex
	cancel   chain.CancelFunc
	tornDown bool
}

func (h *submissionHandle) tearDown() {
	h.mu.Lock()
	cancel := h.cancel
	h.tornDown = true
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *submissionHandle) arm(cancel chain.CancelFunc) {
	h.mu.Lock()
	if h.tornDown {
		h.mu.Unlock()
		cancel()
		return
	}
	h.cancel = cancel
	h.mu.Unlock()
}

// submit sends an action through the gateway and routes its status stream
// into the tracker. The subscription is torn down exactly once, at the first
// terminal status or at teardownAt, whichever comes first. A submission the
// gateway rejects outright is marked Invalid but stays visible in history.
func (a *App) submit(ctx context.Context, action chain.ActionDescriptor, rec *tx.Record, teardownAt chain.SubmissionStatus, onStatus func(chain.SubmissionUpdate)) error {
	handle := &submissionHandle{}

	cancel, err := a.gw.Submit(ctx, action, a.acct.Credential(), func(up chain.SubmissionUpdate) {
		a.routeStatus(rec, up)
		if onStatus != nil {
			onStatus(up)
		}
		if up.Status.Terminal() || up.Status == teardownAt || up.DispatchErr != nil {
			handle.tearDown()
		}
	})
	if err != nil {
		a.tracker.MarkInvalid(rec, err.Error())
		return fmt.Errorf("submit %s: %w", action.Call, err)
	}
	handle.arm(cancel)
	return nil
}

// routeStatus maps one gateway status notification onto the record's
// lifecycle.
func (a *App) routeStatus(rec *tx.Record, up chain.SubmissionUpdate) {
	switch up.Status {
	case chain.StatusReady:
		a.tracker.ApplyStatus(rec, tx.StatusReady, tx.Update{Hash: up.Hash})
	case chain.StatusBroadcast:
		a.tracker.ApplyStatus(rec, tx.StatusBroadcasting, tx.Update{Hash: up.Hash})
	case chain.StatusInBlock:
		a.tracker.ApplyStatus(rec, tx.StatusInBlock, tx.Update{
			Hash:        up.Hash,
			BlockRef:    up.BlockRef,
			DispatchErr: up.DispatchErr,
		})
	case chain.StatusFinalized:
		a.tracker.ApplyStatus(rec, tx.StatusFinalized, tx.Update{
			Hash:         up.Hash,
			FinalizedRef: up.BlockRef,
		})
	case chain.StatusInvalid, chain.StatusDropped, chain.StatusUsurped:
		a.tracker.ApplyStatus(rec, tx.StatusInvalid, tx.Update{Hash: up.Hash})
	}
}

// handleEvent feeds a chain event to the session, then applies the app-level
// consequences. Only queue state is handled here; turn logic hangs off the
// session change notification.
func (a *App) handleEvent(ctx context.Context, ev chain.Event) {
	a.session.HandleEvent(ctx, ev)

	if ev.Kind == chain.EventGameCreated {
		identity := a.session.Identity()
		if ev.PlayerX == identity || ev.PlayerO == identity {
			a.queue.SetInQueue(false)
		}
	}
}

// onSessionChange drives the countdown and the tallies from session
// snapshots. The countdown runs only while it is the opponent's turn in a
// live game.
func (a *App) onSessionChange(snap game.Snapshot) {
	switch {
	case snap.HasGame && snap.Active && !snap.MyTurn:
		a.countdown.Start()
	default:
		a.countdown.Stop()
	}

	if snap.Ended && snap.HasGame && snap.Outcome.Terminal() {
		a.recordResult(snap)
	}
}

// recordResult counts a finished game exactly once and persists the
// snapshot.
func (a *App) recordResult(snap game.Snapshot) {
	a.mu.Lock()
	if a.tallied[snap.GameID] {
		a.mu.Unlock()
		return
	}
	a.tallied[snap.GameID] = true
	switch snap.Outcome {
	case chain.OutcomeXWon:
		a.tally.XWins++
	case chain.OutcomeOWon:
		a.tally.OWins++
	case chain.OutcomeDraw:
		a.tally.Draws++
	}
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{
		"game":    snap.GameID,
		"outcome": snap.Outcome.String(),
	}).Info("game result recorded")

	if err := a.persist(context.Background()); err != nil {
		a.log.WithError(err).Warn("could not persist snapshot")
	}
}

// persist writes history and tallies to the store, when one is configured.
func (a *App) persist(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	a.mu.Lock()
	tally := a.tally
	a.mu.Unlock()

	return a.store.Save(ctx, store.Snapshot{
		Records: a.tracker.History(),
		Tally:   tally,
		SavedAt: time.Now(),
	})
}
