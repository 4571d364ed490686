package welcome

import (
	"crypto/rand"
	"fmt"

	"go.uber.org/zap"

	"welcome/internal/blockchain"
	"welcome/internal/ephemeral"
	"welcome/internal/ledger"
	"welcome/internal/logger"
	"welcome/internal/privatestate"
	"welcome/internal/submit"
)

// Providers are the external collaborators of one user.
type Providers struct {
	Network      blockchain.Network
	PrivateState *privatestate.Notifier[PrivateState]
}

// AppProviders hold the session-scoped state of one user.
type AppProviders struct {
	Logger    *zap.Logger
	Ephemeral *ephemeral.Broadcaster
	Pipeline  *submit.Pipeline
	RandomSK  func() ([]byte, error)
}

func NewAppProviders(l *zap.Logger) *AppProviders {
	l = logger.OrNop(l)
	b := ephemeral.New(l.Named("ephemeral"))
	return &AppProviders{
		Logger:    l,
		Ephemeral: b,
		Pipeline:  submit.New(l.Named("submit"), b),
		RandomSK:  randomSK,
	}
}

// WithNewEphemeralState returns providers for a fresh session of the same
// user. The receiver is left untouched.
func (a *AppProviders) WithNewEphemeralState() *AppProviders {
	b := ephemeral.New(a.Logger.Named("ephemeral"))
	return &AppProviders{
		Logger:    a.Logger,
		Ephemeral: b,
		Pipeline:  submit.New(a.Logger.Named("submit"), b),
		RandomSK:  a.RandomSK,
	}
}

// Close rejects new actions, waits for in-flight transactions and completes
// the ephemeral state.
func (a *AppProviders) Close() {
	a.Pipeline.Close()
	a.Ephemeral.Close()
}

func randomSK() ([]byte, error) {
	sk := make([]byte, ledger.SecretKeyLength)
	if _, err := rand.Read(sk); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	return sk, nil
}
