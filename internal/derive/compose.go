// Package derive combines ledger, private and ephemeral state into one
// role-specific application state stream.
package derive

import (
	"go.uber.org/zap"

	"welcome/internal/logger"
	"welcome/internal/stream"
)

// Compose recomputes derive whenever any input emits, once all three have
// emitted at least once. Results equal to the previous one are dropped. The
// returned observable shares one subscription to each input among all of its
// subscribers and replays the latest result to late subscribers.
func Compose[L, P, E, S any](
	l *zap.Logger,
	ledger stream.Observable[L],
	private stream.Observable[P],
	ephemeral stream.Observable[E],
	derive func(L, P, E) S,
	equal func(a, b S) bool,
) stream.Observable[S] {
	l = logger.OrNop(l)

	combined := stream.CombineLatest3(ledger, private, ephemeral, derive)
	distinct := stream.DistinctUntilChanged(combined, equal)
	logged := stream.Map(distinct, func(s S) (S, error) {
		l.Info("local state", zap.Any("state", s))
		return s, nil
	})
	return stream.Share(logged)
}
