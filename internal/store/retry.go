package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 5, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second, MaxElapsed: 30 * time.Second}
}

// Retrier saves with bounded exponential backoff. It is used off the session's
// serialization unit, after the synchronous save has already failed once.
type Retrier struct {
	gw     Gateway
	policy RetryPolicy
	log    *zap.Logger
}

func NewRetrier(gw Gateway, policy RetryPolicy, log *zap.Logger) *Retrier {
	return &Retrier{gw: gw, policy: policy, log: log.Named("retrier")}
}

func (r *Retrier) Save(ctx context.Context, s engine.Session) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.gw.Save(ctx, s)
		if err != nil && Permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.policy.MaxTries),
		backoff.WithMaxElapsedTime(r.policy.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("save failed, retrying",
				zap.String("session_id", s.ID),
				zap.Int64("revision", s.Clock.Revision),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	return err
}

// Permanent reports whether retrying err cannot help: bad data or a
// constraint violation rather than an unreachable database.
func Permanent(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
	}
	return !errors.Is(err, engine.ErrPersistenceUnavailable)
}
