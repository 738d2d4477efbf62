// internal/matchmaking/coordinator.go
package matchmaking

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sandreim/tictactoe3/internal/chain"
)

// Ledger call names for the matchmaking pallet.
const (
	callPlayGame          = "ticTacToe.playGame"
	callCancelMatchmaking = "ticTacToe.cancelMatchmaking"
)

// Coordinator wraps queue join/cancel. The local inQueue flag is optimistic:
// it is set at submission time and can desync if the submission fails
// invisibly or a match completes first, so Sync corrects it from the ledger's
// queue membership query.
type Coordinator struct {
	gw       chain.Gateway
	identity string
	log      *logrus.Logger

	mu      sync.Mutex
	inQueue bool
}

// NewCoordinator creates a coordinator for one identity.
func NewCoordinator(gw chain.Gateway, identity string, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	return &Coordinator{gw: gw, identity: identity, log: log}
}

// JoinQueue returns the join action for submission and optimistically marks
// the player as queued.
func (c *Coordinator) JoinQueue() chain.ActionDescriptor {
	c.mu.Lock()
	c.inQueue = true
	c.mu.Unlock()
	c.log.Info("joining matchmaking queue")
	return chain.ActionDescriptor{Call: callPlayGame}
}

// CancelQueue returns the cancel action for submission and optimistically
// clears the queued flag.
func (c *Coordinator) CancelQueue() chain.ActionDescriptor {
	c.mu.Lock()
	c.inQueue = false
	c.mu.Unlock()
	c.log.Info("cancelling matchmaking")
	return chain.ActionDescriptor{Call: callCancelMatchmaking}
}

// InQueue returns the locally held flag.
func (c *Coordinator) InQueue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inQueue
}

// SetInQueue overrides the local flag, e.g. when a creation event proves the
// player left the queue.
func (c *Coordinator) SetInQueue(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inQueue = v
}

// Sync replaces the optimistic flag with ground truth from the ledger.
func (c *Coordinator) Sync(ctx context.Context) (bool, error) {
	queued, err := c.gw.QueueMembership(ctx, c.identity)
	if err != nil {
		c.log.WithError(err).Warn("queue membership check failed")
		return false, err
	}
	c.mu.Lock()
	c.inQueue = queued
	c.mu.Unlock()
	return queued, nil
}
