package email

import (
	"context"
	"errors"

	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"go.uber.org/zap"
)

// ErrQueueFull se devuelve cuando el buffer está lleno; el mensaje se descarta.
var ErrQueueFull = errors.New("email: queue full")

// Message es un email ya renderizado.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Queue desacopla el envío SMTP del request que lo origina. Run consume hasta
// que el contexto se cancela y luego drena lo pendiente.
type Queue struct {
	sender Sender
	ch     chan Message
}

// NewQueue crea una cola con capacidad size (mínimo 1).
func NewQueue(sender Sender, size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{sender: sender, ch: make(chan Message, size)}
}

// Enqueue no bloquea.
func (q *Queue) Enqueue(m Message) error {
	select {
	case q.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len devuelve los mensajes pendientes.
func (q *Queue) Len() int { return len(q.ch) }

// Run envía mensajes hasta que ctx se cancela. Siempre devuelve nil: los
// errores de SMTP se loguean y no detienen el worker.
func (q *Queue) Run(ctx context.Context) error {
	log := logger.L().With(logger.Component("email.queue"))
	for {
		select {
		case m := <-q.ch:
			q.send(log, m)
		case <-ctx.Done():
			for {
				select {
				case m := <-q.ch:
					q.send(log, m)
				default:
					return nil
				}
			}
		}
	}
}

func (q *Queue) send(log *zap.Logger, m Message) {
	if err := q.sender.Send(m.To, m.Subject, m.HTML, m.Text); err != nil {
		log.Warn("dropping email after send failure", logger.Email(m.To), logger.Err(err))
	}
}
