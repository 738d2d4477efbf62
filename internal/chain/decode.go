// internal/chain/decode.go
package chain

import (
	"encoding/json"
	"fmt"
)

// Wire-side JSON shapes for the node's RPC surface. All tagged-union decoding
// lives here: past this file the client only ever sees clean Go enums and
// bools.

type wireGame struct {
	PlayerX string   `json:"playerX"`
	PlayerO string   `json:"playerO"`
	XTurn   bool     `json:"xTurn"`
	Board   []string `json:"board"`
	State   string   `json:"state"`
}

type wireActiveGame struct {
	ID   uint32   `json:"id"`
	Game wireGame `json:"game"`
}

type wireAccountInfo struct {
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
	Frozen   uint64 `json:"frozen"`
	Nonce    uint32 `json:"nonce"`
}

// wireSubmissionStatus mirrors the node's status stream items: a tag plus
// optional payloads.
type wireSubmissionStatus struct {
	Status        string `json:"status"`
	Hash          string `json:"hash,omitempty"`
	BlockHash     string `json:"blockHash,omitempty"`
	DispatchError *struct {
		Section string `json:"section"`
		Name    string `json:"name"`
	} `json:"dispatchError,omitempty"`
}

type wireHeader struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

type wireEvent struct {
	Kind    string `json:"kind"`
	GameID  uint32 `json:"gameId"`
	PlayerX string `json:"playerX,omitempty"`
	PlayerO string `json:"playerO,omitempty"`
	Player  string `json:"player,omitempty"`
	Pos     uint8  `json:"pos,omitempty"`
	State   string `json:"state,omitempty"`
}

// decodeCell decodes one board cell tag.
func decodeCell(tag string) (Cell, error) {
	switch tag {
	case "Empty", "":
		return CellEmpty, nil
	case "X":
		return CellX, nil
	case "O":
		return CellO, nil
	}
	return CellEmpty, fmt.Errorf("unknown cell tag %q", tag)
}

// decodeOutcome decodes a game lifecycle tag.
func decodeOutcome(tag string) (Outcome, error) {
	switch tag {
	case "InProgress", "":
		return OutcomeInProgress, nil
	case "XWon":
		return OutcomeXWon, nil
	case "OWon":
		return OutcomeOWon, nil
	case "Draw":
		return OutcomeDraw, nil
	}
	return OutcomeInProgress, fmt.Errorf("unknown game state tag %q", tag)
}

// decodeGameRecord converts a wire game into the fully decoded record the
// rest of the client consumes. The board must carry exactly nine cells.
func decodeGameRecord(w wireGame) (*GameRecord, error) {
	if len(w.Board) != 9 {
		return nil, fmt.Errorf("board has %d cells, want 9", len(w.Board))
	}
	rec := &GameRecord{
		PlayerX: w.PlayerX,
		PlayerO: w.PlayerO,
		XTurn:   w.XTurn,
	}
	for i, tag := range w.Board {
		cell, err := decodeCell(tag)
		if err != nil {
			return nil, fmt.Errorf("board cell %d: %w", i, err)
		}
		rec.Board[i] = cell
	}
	state, err := decodeOutcome(w.State)
	if err != nil {
		return nil, err
	}
	rec.State = state
	return rec, nil
}

// decodeSubmissionUpdate converts one status stream item.
func decodeSubmissionUpdate(raw json.RawMessage) (SubmissionUpdate, error) {
	var w wireSubmissionStatus
	if err := json.Unmarshal(raw, &w); err != nil {
		return SubmissionUpdate{}, err
	}

	var status SubmissionStatus
	switch w.Status {
	case "ready":
		status = StatusReady
	case "broadcast":
		status = StatusBroadcast
	case "inBlock":
		status = StatusInBlock
	case "finalized":
		status = StatusFinalized
	case "invalid":
		status = StatusInvalid
	case "dropped":
		status = StatusDropped
	case "usurped":
		status = StatusUsurped
	default:
		return SubmissionUpdate{}, fmt.Errorf("unknown submission status %q", w.Status)
	}

	up := SubmissionUpdate{
		Status:   status,
		Hash:     w.Hash,
		BlockRef: w.BlockHash,
	}
	if w.DispatchError != nil {
		up.DispatchErr = &DispatchError{
			Section: w.DispatchError.Section,
			Name:    w.DispatchError.Name,
		}
	}
	return up, nil
}

// decodeEvent converts a pushed domain event.
func decodeEvent(raw json.RawMessage) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, err
	}

	ev := Event{
		GameID:  w.GameID,
		PlayerX: w.PlayerX,
		PlayerO: w.PlayerO,
		Player:  w.Player,
		Pos:     w.Pos,
	}
	switch w.Kind {
	case "GameCreated":
		ev.Kind = EventGameCreated
	case "MoveMade":
		ev.Kind = EventMoveMade
	case "GameEnded":
		ev.Kind = EventGameEnded
		state, err := decodeOutcome(w.State)
		if err != nil {
			return Event{}, err
		}
		ev.State = state
	case "PlayerJoinedQueue":
		ev.Kind = EventPlayerJoinedQueue
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", w.Kind)
	}
	return ev, nil
}
