package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 12

// Registrar creates local principals. The bootstrap flow uses it to create
// the first super admin's account.
type Registrar interface {
	Register(ctx context.Context, reg Registration) (*Principal, error)
	Delete(ctx context.Context, principalID string) error
}

// NormalizeEmail trims and lower-cases an address and validates its syntax
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}

func validateRegistration(reg Registration) (string, error) {
	email, err := NormalizeEmail(reg.Email)
	if err != nil {
		return "", err
	}
	if len(reg.Password) < MinPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	return email, nil
}

// PostgresRegistrar stores principals in the principals table
type PostgresRegistrar struct {
	db   *sql.DB
	cost int
}

// NewPostgresRegistrar creates a registrar backed by db
func NewPostgresRegistrar(db *sql.DB) *PostgresRegistrar {
	return &PostgresRegistrar{db: db, cost: bcrypt.DefaultCost}
}

// Register creates a principal. A duplicate email yields ErrAlreadyExists.
func (r *PostgresRegistrar) Register(ctx context.Context, reg Registration) (*Principal, error) {
	email, err := validateRegistration(reg)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), r.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	p := &Principal{
		ID:    uuid.NewString(),
		Email: email,
	}

	query := `
		INSERT INTO principals (id, email, password_hash, email_verified, created_at)
		VALUES ($1, $2, $3, false, NOW())
		RETURNING created_at
	`
	err = r.db.QueryRowContext(ctx, query, p.ID, p.Email, string(hash)).Scan(&p.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, fmt.Errorf("principal %s: %w", email, ErrAlreadyExists)
		}
		return nil, StoreError("register principal", err)
	}

	return p, nil
}

// Delete removes a principal. Deleting a missing principal is not an error.
func (r *PostgresRegistrar) Delete(ctx context.Context, principalID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM principals WHERE id = $1`, principalID); err != nil {
		return StoreError("delete principal", err)
	}
	return nil
}

// MemoryRegistrar keeps principals in memory
type MemoryRegistrar struct {
	mu         sync.Mutex
	principals map[string]*Principal
	hashes     map[string][]byte
	byEmail    map[string]string
	now        func() time.Time
}

// NewMemoryRegistrar creates an empty in-memory registrar
func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{
		principals: make(map[string]*Principal),
		hashes:     make(map[string][]byte),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

// Register implements Registrar
func (r *MemoryRegistrar) Register(ctx context.Context, reg Registration) (*Principal, error) {
	email, err := validateRegistration(reg)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return nil, fmt.Errorf("principal %s: %w", email, ErrAlreadyExists)
	}

	p := &Principal{ID: uuid.NewString(), Email: email, CreatedAt: r.now()}
	r.principals[p.ID] = p
	r.hashes[p.ID] = hash
	r.byEmail[email] = p.ID

	cp := *p
	return &cp, nil
}

// Delete implements Registrar
func (r *MemoryRegistrar) Delete(ctx context.Context, principalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.principals[principalID]; ok {
		delete(r.byEmail, p.Email)
		delete(r.principals, principalID)
		delete(r.hashes, principalID)
	}
	return nil
}

// Get returns a stored principal
func (r *MemoryRegistrar) Get(principalID string) (*Principal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[principalID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// CheckPassword reports whether password matches the stored hash
func (r *MemoryRegistrar) CheckPassword(principalID, password string) bool {
	r.mu.Lock()
	hash, ok := r.hashes[principalID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
