// internal/chain/gateway.go
package chain

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransport wraps any failure where a remote call did not complete.
// Callers treat it as "state is stale, not wrong" and retry on their own terms.
var ErrTransport = errors.New("chain transport failure")

// Cell is one square of the 3x3 board, decoded from the ledger's tagged enum.
type Cell uint8

const (
	CellEmpty Cell = iota
	CellX
	CellO
)

// String returns "X", "O" or "" for an empty cell.
func (c Cell) String() string {
	switch c {
	case CellX:
		return "X"
	case CellO:
		return "O"
	}
	return ""
}

// Outcome is the ledger's lifecycle tag for a game.
type Outcome uint8

const (
	OutcomeInProgress Outcome = iota
	OutcomeXWon
	OutcomeOWon
	OutcomeDraw
)

// Terminal reports whether the outcome accepts no further moves.
func (o Outcome) Terminal() bool { return o != OutcomeInProgress }

func (o Outcome) String() string {
	switch o {
	case OutcomeInProgress:
		return "InProgress"
	case OutcomeXWon:
		return "XWon"
	case OutcomeOWon:
		return "OWon"
	case OutcomeDraw:
		return "Draw"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// GameRecord is the raw, fully decoded state of one game as held by the
// ledger. All tagged-union decoding happens in the gateway adapter; the rest
// of the client only ever sees these plain Go values.
type GameRecord struct {
	PlayerX string
	PlayerO string
	XTurn   bool
	Board   [9]Cell
	State   Outcome
}

// AccountInfo carries the balance and nonce for one identity.
type AccountInfo struct {
	Free     uint64
	Reserved uint64
	Frozen   uint64
	Nonce    uint32
}

// SubmissionStatus is one stage in a submitted action's lifecycle.
type SubmissionStatus uint8

const (
	StatusReady SubmissionStatus = iota
	StatusBroadcast
	StatusInBlock
	StatusFinalized
	StatusInvalid
	StatusDropped
	StatusUsurped
)

func (s SubmissionStatus) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusBroadcast:
		return "Broadcast"
	case StatusInBlock:
		return "InBlock"
	case StatusFinalized:
		return "Finalized"
	case StatusInvalid:
		return "Invalid"
	case StatusDropped:
		return "Dropped"
	case StatusUsurped:
		return "Usurped"
	}
	return fmt.Sprintf("SubmissionStatus(%d)", uint8(s))
}

// Terminal reports whether no further status notification will follow.
// InBlock is quasi-terminal: Finalized may still arrive, but an action that
// carries no funds can safely stop listening there.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusFinalized || s == StatusInvalid || s == StatusDropped || s == StatusUsurped
}

// DispatchError describes an action that was included in a block but rejected
// by the ledger's application logic. Section and Name come verbatim from the
// ledger's error metadata.
type DispatchError struct {
	Section string
	Name    string
}

func (e DispatchError) Error() string {
	return fmt.Sprintf("dispatch error: %s.%s", e.Section, e.Name)
}

// SubmissionUpdate is one status notification for an in-flight action.
type SubmissionUpdate struct {
	Status      SubmissionStatus
	Hash        string // transaction hash, set once assigned
	BlockRef    string // block hash for InBlock / Finalized
	DispatchErr *DispatchError
}

// ActionDescriptor names a ledger call plus its arguments. Action triggers
// build these; submission and signing are the caller's concern.
type ActionDescriptor struct {
	Call string
	Args []any
}

// Credential is an opaque signer credential. The gateway knows how to turn it
// into a signature; nothing else in the client inspects it.
type Credential []byte

// Header is a decoded block header notification.
type Header struct {
	Number uint64
	Hash   string
}

// EventKind discriminates the ledger's domain event notifications.
type EventKind uint8

const (
	EventGameCreated EventKind = iota
	EventMoveMade
	EventGameEnded
	EventPlayerJoinedQueue
)

// Event is one decoded domain event pushed by the ledger.
type Event struct {
	Kind    EventKind
	GameID  uint32
	PlayerX string  // GameCreated
	PlayerO string  // GameCreated
	Player  string  // MoveMade / PlayerJoinedQueue
	Pos     uint8   // MoveMade
	State   Outcome // GameEnded
}

// CancelFunc tears down a subscription. Safe to call more than once.
type CancelFunc func()

// StatusFunc receives submission lifecycle updates.
type StatusFunc func(SubmissionUpdate)

// HeaderFunc receives block header notifications.
type HeaderFunc func(Header)

// EventFunc receives decoded domain events.
type EventFunc func(Event)

// Gateway is the remote ledger as the client sees it. Query results are fully
// decoded; all blocking operations take a context.
type Gateway interface {
	// ActiveGame returns the current active game for an identity, or a nil
	// record when none exists. A nil record is not an error.
	ActiveGame(ctx context.Context, identity string) (uint32, *GameRecord, error)

	// AccountInfo returns balances and the current nonce for an identity.
	AccountInfo(ctx context.Context, identity string) (AccountInfo, error)

	// Submit signs and sends an action, delivering status updates to onStatus
	// until the returned cancel func is called or a terminal status arrives.
	Submit(ctx context.Context, action ActionDescriptor, cred Credential, onStatus StatusFunc) (CancelFunc, error)

	// SubscribeNewHeads streams best-block headers.
	SubscribeNewHeads(ctx context.Context, fn HeaderFunc) (CancelFunc, error)

	// SubscribeFinalizedHeads streams finalized-block headers.
	SubscribeFinalizedHeads(ctx context.Context, fn HeaderFunc) (CancelFunc, error)

	// SubscribeEvents streams decoded domain events.
	SubscribeEvents(ctx context.Context, fn EventFunc) (CancelFunc, error)

	// QueueMembership reports whether an identity is waiting in the
	// matchmaking queue.
	QueueMembership(ctx context.Context, identity string) (bool, error)
}
