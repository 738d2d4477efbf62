// internal/game/session.go
package game

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sandreim/tictactoe3/internal/chain"
)

// ErrNotAParticipant is returned by Initialize when the local identity is
// neither of the named players. Recoverable by re-initializing with a game
// the identity actually belongs to.
var ErrNotAParticipant = errors.New("you are not a player in this game")

// Symbol is the local player's side in the current game.
type Symbol string

const (
	SymbolNone Symbol = ""
	SymbolX    Symbol = "X"
	SymbolO    Symbol = "O"
)

// Snapshot is an immutable copy of the session state handed to observers.
type Snapshot struct {
	GameID   uint32
	HasGame  bool
	Active   bool
	Ended    bool
	Board    [9]chain.Cell
	Symbol   Symbol
	Opponent string
	PlayerX  string
	PlayerO  string
	MyTurn   bool
	Outcome  chain.Outcome
}

// Session is the single authoritative view of the local player's active game.
// It never mutates state optimistically: every update is a full re-derivation
// from the ledger via Refresh, so duplicate, reordered or missed
// notifications cannot corrupt it. The last refresh always wins.
type Session struct {
	gw       chain.Gateway
	identity string
	log      *logrus.Logger

	mu        sync.Mutex
	gameID    uint32
	hasGame   bool
	active    bool
	ended     bool
	board     [9]chain.Cell
	symbol    Symbol
	opponent  string
	playerX   string
	playerO   string
	myTurn    bool
	outcome   chain.Outcome
	observers []func(Snapshot)
}

// NewSession creates a session bound to one local identity.
func NewSession(gw chain.Gateway, identity string, log *logrus.Logger) *Session {
	if log == nil {
		log = logrus.New()
	}
	return &Session{gw: gw, identity: identity, log: log}
}

// Identity returns the local player identity the session was built for.
func (s *Session) Identity() string { return s.identity }

// OnChange registers an observer called with a state snapshot after every
// committed state change.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Initialize fixes the game identity, the local player's symbol and the
// opponent for the session. Turn ownership is not computed here; the first
// Refresh fills it in. No change notification fires.
func (s *Session) Initialize(gameID uint32, playerX, playerO string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(gameID, playerX, playerO)
}

// initializeLocked assumes the lock is held by the caller.
func (s *Session) initializeLocked(gameID uint32, playerX, playerO string) error {
	if s.identity != playerX && s.identity != playerO {
		return ErrNotAParticipant
	}

	s.gameID = gameID
	s.hasGame = true
	s.playerX = playerX
	s.playerO = playerO
	if s.identity == playerX {
		s.symbol = SymbolX
		s.opponent = playerO
	} else {
		s.symbol = SymbolO
		s.opponent = playerX
	}
	s.active = true
	s.ended = false
	s.outcome = chain.OutcomeInProgress

	s.log.WithFields(logrus.Fields{
		"game":   gameID,
		"symbol": s.symbol,
	}).Info("game initialized")
	return nil
}

// Refresh re-derives the whole session from the ledger's record of the
// player's active game. The board is always replaced wholesale, never
// patched, which sidesteps drift from missed intermediate updates.
//
// Returns whether an active game was found. Finding none is normal: when a
// game was previously held it means the game concluded, and the session is
// marked ended. Only a transport failure returns an error; in that case the
// stale state is retained untouched and no notification fires.
func (s *Session) Refresh(ctx context.Context) (bool, error) {
	gameID, rec, err := s.gw.ActiveGame(ctx, s.identity)
	if err != nil {
		s.log.WithError(err).Warn("refresh failed, keeping stale state")
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec == nil {
		if s.hasGame && !s.ended {
			s.log.WithField("game", s.gameID).Info("no active game on chain, previous game has ended")
			s.active = false
			s.ended = true
			s.notifyLocked()
		}
		return false, nil
	}

	// New game id means a new match replaced the held session.
	if !s.hasGame || s.gameID != gameID {
		if err := s.initializeLocked(gameID, rec.PlayerX, rec.PlayerO); err != nil {
			return false, err
		}
	}

	s.board = rec.Board

	// The raw flag is a real bool here; the gateway adapter already decoded
	// the ledger's tagged value, so false means "O to move", never "unset".
	s.myTurn = (s.symbol == SymbolX) == rec.XTurn

	s.outcome = rec.State
	if rec.State.Terminal() {
		s.active = false
		s.ended = true
	}

	s.log.WithFields(logrus.Fields{
		"game":    s.gameID,
		"myTurn":  s.myTurn,
		"outcome": s.outcome.String(),
	}).Debug("session refreshed")

	s.notifyLocked()
	return true, nil
}

// HandleEvent reacts to a ledger-pushed notification. Creation and move
// events are treated purely as hints to re-pull authoritative state; the
// termination event carries the terminal tag already, so it is applied
// without a further round trip.
func (s *Session) HandleEvent(ctx context.Context, ev chain.Event) {
	switch ev.Kind {
	case chain.EventGameCreated:
		if ev.PlayerX != s.identity && ev.PlayerO != s.identity {
			return
		}
		s.log.WithField("game", ev.GameID).Info("game created for us, refreshing")
		_, _ = s.Refresh(ctx)

	case chain.EventMoveMade:
		// The event carries no board delta; it is a wake-up signal only.
		_, _ = s.Refresh(ctx)

	case chain.EventGameEnded:
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.hasGame || s.gameID != ev.GameID {
			return
		}
		s.active = false
		s.ended = true
		if ev.State.Terminal() {
			s.outcome = ev.State
		}
		s.log.WithFields(logrus.Fields{
			"game":    ev.GameID,
			"outcome": s.outcome.String(),
		}).Info("game ended")
		s.notifyLocked()
	}
}

// Reset clears all fields to their unset defaults and notifies observers.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gameID = 0
	s.hasGame = false
	s.active = false
	s.ended = false
	s.board = [9]chain.Cell{}
	s.symbol = SymbolNone
	s.opponent = ""
	s.playerX = ""
	s.playerO = ""
	s.myTurn = false
	s.outcome = chain.OutcomeInProgress

	s.log.Info("session reset")
	s.notifyLocked()
}

// Snapshot returns an immutable copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked assumes the lock is held by the caller.
func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		GameID:   s.gameID,
		HasGame:  s.hasGame,
		Active:   s.active,
		Ended:    s.ended,
		Board:    s.board,
		Symbol:   s.symbol,
		Opponent: s.opponent,
		PlayerX:  s.playerX,
		PlayerO:  s.playerO,
		MyTurn:   s.myTurn,
		Outcome:  s.outcome,
	}
}

// notifyLocked fires every observer with a fresh snapshot.
// Assumes the lock is held by the caller.
func (s *Session) notifyLocked() {
	snap := s.snapshotLocked()
	for _, fn := range s.observers {
		fn(snap)
	}
}
