package identity

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/beout-auth/internal/email"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

// LogNotifier solo deja constancia del link en el log (sin SMTP configurado).
type LogNotifier struct{}

func (LogNotifier) NotifyLinked(ctx context.Context, ev LinkEvent) error {
	logger.From(ctx).Info("account linked to new provider",
		logger.Component("identity.notifier"),
		logger.UserID(ev.UserID),
		logger.Email(ev.Email),
		logger.Provider(ev.NewProvider),
		logger.String("previous_provider", ev.PreviousProvider),
	)
	return nil
}

// Enqueuer es la parte de email.Queue que usa MailNotifier.
type Enqueuer interface {
	Enqueue(m email.Message) error
}

// MailNotifier encola un aviso al dueño de la cuenta. No bloquea el login.
type MailNotifier struct {
	Queue      Enqueuer
	SupportURL string
}

func (n *MailNotifier) NotifyLinked(ctx context.Context, ev LinkEvent) error {
	msg, err := email.RenderLinkNotice(ev.Email, email.LinkNoticeVars{
		Email:            ev.Email,
		NewProvider:      ev.NewProvider,
		PreviousProvider: ev.PreviousProvider,
		At:               ev.At,
		SupportURL:       n.SupportURL,
	})
	if err != nil {
		return err
	}
	if err := n.Queue.Enqueue(msg); err != nil {
		return fmt.Errorf("identity: enqueue link notice: %w", err)
	}
	return nil
}

// MultiNotifier reenvía a todos; devuelve el primer error.
type MultiNotifier []LinkNotifier

func (m MultiNotifier) NotifyLinked(ctx context.Context, ev LinkEvent) error {
	var first error
	for _, n := range m {
		if err := n.NotifyLinked(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
