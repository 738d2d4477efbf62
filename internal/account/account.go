// internal/account/account.go
package account

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/sandreim/tictactoe3/internal/chain"
)

// ErrNotConnected is returned when an operation needs a loaded account.
var ErrNotConnected = errors.New("no account connected")

// DefaultPollInterval is how often balance updates are pushed to the caller.
const DefaultPollInterval = 3 * time.Second

// Balance is the formatted account balance handed to observers.
type Balance struct {
	Free     uint64
	Reserved uint64
	Frozen   uint64
}

// Manager holds the local identity and its signer credential, and polls the
// ledger for balance updates. Address derivation hashes the seed phrase with
// blake2b into a stable identifier; actual transaction signing stays behind
// the gateway.
type Manager struct {
	gw  chain.Gateway
	log *logrus.Logger

	mu         sync.Mutex
	address    string
	credential chain.Credential
	pollStop   chan struct{}
}

// NewManager creates a manager with no account loaded.
func NewManager(gw chain.Gateway, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{gw: gw, log: log}
}

// FromSeed derives the account address and signer credential from a seed
// phrase. The same seed always yields the same address.
func (m *Manager) FromSeed(seed string) (string, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return "", errors.New("empty seed phrase")
	}

	digest := blake2b.Sum256([]byte(seed))
	address := "5" + hex.EncodeToString(digest[:16])

	m.mu.Lock()
	m.address = address
	m.credential = chain.Credential(digest[:])
	m.mu.Unlock()

	m.log.WithField("address", address).Info("account loaded from seed")
	return address, nil
}

// Address returns the loaded account's address, empty when none.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Credential returns the opaque signer credential for gateway submissions.
func (m *Manager) Credential() chain.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential
}

// Connected reports whether an account is loaded.
func (m *Manager) Connected() bool {
	return m.Address() != ""
}

// Balance queries the current balances for the loaded account.
func (m *Manager) Balance(ctx context.Context) (Balance, error) {
	addr := m.Address()
	if addr == "" {
		return Balance{}, ErrNotConnected
	}
	info, err := m.gw.AccountInfo(ctx, addr)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Free: info.Free, Reserved: info.Reserved, Frozen: info.Frozen}, nil
}

// StartBalanceUpdates begins periodic balance polling, delivering each result
// to cb. Any previous poller is stopped first so no two intervals coexist.
func (m *Manager) StartBalanceUpdates(ctx context.Context, interval time.Duration, cb func(Balance)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	m.mu.Lock()
	if m.pollStop != nil {
		close(m.pollStop)
	}
	stop := make(chan struct{})
	m.pollStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				bal, err := m.Balance(ctx)
				if err != nil {
					m.log.WithError(err).Warn("balance update failed")
					continue
				}
				cb(bal)
			}
		}
	}()
}

// StopBalanceUpdates cancels the active poller, if any.
func (m *Manager) StopBalanceUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
}

// Disconnect stops polling and clears the loaded account.
func (m *Manager) Disconnect() {
	m.StopBalanceUpdates()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.address = ""
	m.credential = nil
}
