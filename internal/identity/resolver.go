package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/metrics"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/google/uuid"
)

// ResolverDeps contiene las dependencias del resolver.
type ResolverDeps struct {
	Repo     Repository
	Notifier LinkNotifier     // opcional
	Now      func() time.Time // opcional, tests
	NewID    func() string    // opcional, tests
}

// Resolver implementa find-by-provider → find-by-email+link → create.
type Resolver struct {
	repo     Repository
	notifier LinkNotifier
	now      func() time.Time
	newID    func() string
}

// NewResolver crea un Resolver.
func NewResolver(d ResolverDeps) *Resolver {
	r := &Resolver{repo: d.Repo, notifier: d.Notifier, now: d.Now, newID: d.NewID}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// Resolve maps a to exactly one local user. Calling it again with the same
// assertion returns the same user (step 1 short-circuits).
func (r *Resolver) Resolve(ctx context.Context, a auth.Assertion) (*Resolution, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("identity.resolver"),
		logger.Provider(a.Provider.String()),
	)

	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.Email = NormalizeEmail(a.Email)

	res, err := r.resolveOnce(ctx, a)
	if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrDuplicateProvider) {
		// Otro request creó la fila entre nuestro lookup y el insert. El
		// reintento la encuentra en el paso 1 o 2.
		log.Debug("unique race on create, retrying")
		res, err = r.resolveOnce(ctx, a)
	}
	if err != nil {
		return nil, fmt.Errorf("identity: resolve: %w", err)
	}

	res.EmailVerified = a.EmailVerified
	metrics.IdentityOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	log.Info("identity resolved",
		logger.UserID(res.User.ID),
		logger.Outcome(string(res.Outcome)),
	)
	if res.Outcome == OutcomeLinked && !a.EmailVerified {
		// El provider no garantiza el email: queda rastro para revisar tomas de cuenta.
		log.Warn("account relinked with unverified email",
			logger.UserID(res.User.ID),
			logger.String("previous_provider", res.PreviousProvider),
			logger.Email(a.Email),
		)
	}

	if res.Outcome == OutcomeLinked {
		r.notifyLinked(ctx, res)
	}
	return res, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, a auth.Assertion) (*Resolution, error) {
	var out *Resolution
	now := r.now().UTC().Truncate(time.Millisecond)

	err := r.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		provider := a.Provider.String()

		// 1. (provider, providerId)
		u, err := tx.FindByProvider(ctx, provider, a.ProviderUserID)
		switch {
		case err == nil:
			if err := tx.TouchLastLogin(ctx, u.ID, now); err != nil {
				return err
			}
			u.LastLogin = now
			out = &Resolution{User: u, Outcome: OutcomeExisting}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		// 2. email → re-link
		u, err = tx.FindByEmail(ctx, a.Email)
		switch {
		case err == nil:
			if err := tx.Relink(ctx, u.ID, provider, a.ProviderUserID, now); err != nil {
				return err
			}
			prevProvider, prevID := u.Provider, u.ProviderID
			u.Provider, u.ProviderID, u.LastLogin = provider, a.ProviderUserID, now
			out = &Resolution{
				User:               u,
				Outcome:            OutcomeLinked,
				PreviousProvider:   prevProvider,
				PreviousProviderID: prevID,
			}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		// 3. alta
		first, last := profileNames(a)
		u = &User{
			ID:         r.newID(),
			Email:      a.Email,
			Provider:   provider,
			ProviderID: a.ProviderUserID,
			Role:       DefaultRole,
			IsVerified: true,
			CreatedAt:  now,
			LastLogin:  now,
			FirstName:  first,
			LastName:   last,
		}
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		if err := tx.CreateProfile(ctx, Profile{
			UserID:    u.ID,
			FirstName: first,
			LastName:  last,
			AvatarURL: a.AvatarURL,
		}); err != nil {
			return err
		}
		out = &Resolution{User: u, Outcome: OutcomeCreated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) notifyLinked(ctx context.Context, res *Resolution) {
	if r.notifier == nil {
		return
	}
	if res.PreviousProvider == res.User.Provider && res.PreviousProviderID == res.User.ProviderID {
		return
	}
	ev := LinkEvent{
		UserID:           res.User.ID,
		Email:            res.User.Email,
		NewProvider:      res.User.Provider,
		PreviousProvider: res.PreviousProvider,
		At:               res.User.LastLogin,
	}
	if err := r.notifier.NotifyLinked(ctx, ev); err != nil {
		logger.From(ctx).Warn("link notification failed",
			logger.Component("identity.resolver"),
			logger.UserID(ev.UserID),
			logger.Err(err),
		)
	}
}

// GetUser devuelve el usuario por id (para /auth/me).
func (r *Resolver) GetUser(ctx context.Context, id string) (*User, error) {
	return r.repo.GetUser(ctx, id)
}
