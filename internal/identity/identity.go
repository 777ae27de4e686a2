// Package identity maps a verified third-party identity to a local user:
// find by (provider, providerId), else find by email and re-link, else create.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
)

// DefaultRole para usuarios creados por login social.
const DefaultRole = "user"

// User es la fila de users (más los nombres del perfil, si hay).
type User struct {
	ID         string
	Email      string
	Provider   string
	ProviderID string
	Role       string
	IsVerified bool
	CreatedAt  time.Time
	LastLogin  time.Time
	FirstName  string
	LastName   string
}

// Public convierte a la forma que se devuelve al cliente.
func (u *User) Public() auth.PublicUser {
	return auth.PublicUser{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		IsVerified: u.IsVerified,
		Provider:   u.Provider,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		CreatedAt:  u.CreatedAt,
		LastLogin:  u.LastLogin,
	}
}

// Profile es 1:1 con User. El resolver solo siembra nombre y avatar; el resto
// lo administra el subsistema de perfiles.
type Profile struct {
	UserID       string
	FirstName    string
	LastName     string
	Phone        string
	DateOfBirth  string // YYYY-MM-DD
	AddressLine1 string
	AddressLine2 string
	City         string
	PostalCode   string
	Country      string
	AvatarURL    string
}

var (
	ErrNotFound          = errors.New("identity: user not found")
	ErrDuplicateEmail    = errors.New("identity: email already registered")
	ErrDuplicateProvider = errors.New("identity: provider identity already registered")
)

// Tx son las operaciones disponibles dentro de la transacción del resolver.
// Ninguna hace I/O externo fuera de la base.
type Tx interface {
	FindByProvider(ctx context.Context, provider, providerID string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Relink(ctx context.Context, userID, provider, providerID string, at time.Time) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	CreateUser(ctx context.Context, u *User) error
	CreateProfile(ctx context.Context, p Profile) error
}

// Repository abstrae Postgres y SQLite.
type Repository interface {
	// WithinTx corre fn en una transacción; cualquier error hace rollback.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetUser(ctx context.Context, id string) (*User, error)
	Ping(ctx context.Context) error
	Close() error
}

// Outcome de una resolución.
type Outcome string

const (
	OutcomeExisting Outcome = "existing"
	OutcomeLinked   Outcome = "linked"
	OutcomeCreated  Outcome = "created"
)

// Resolution es el resultado de Resolve.
type Resolution struct {
	User    *User
	Outcome Outcome
	// Provider anterior cuando Outcome == linked.
	PreviousProvider   string
	PreviousProviderID string
	// EmailVerified según el provider que resolvió (relevante en linked).
	EmailVerified bool
}

// LinkEvent se emite después del commit cuando un email existente quedó
// asociado a otra identidad de provider.
type LinkEvent struct {
	UserID           string
	Email            string
	NewProvider      string
	PreviousProvider string
	At               time.Time
}

// LinkNotifier recibe LinkEvents. Los errores se loguean, nunca fallan el login.
type LinkNotifier interface {
	NotifyLinked(ctx context.Context, ev LinkEvent) error
}
