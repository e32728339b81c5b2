// Package postgres provides a PostgreSQL implementation of the
// provision.Platform interface. Identities and parent accounts live in two
// tables joined by identity id; unique constraints on email and customer
// reference surface lost creation races as the sentinel errors the manager
// expects. Passwords are hashed with bcrypt before storage.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumilearn/provision/pkg/provision"
)

// uniqueViolation is the SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// Platform implements provision.Platform backed by PostgreSQL.
type Platform struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL platform configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// BcryptCost is the cost factor for password hashing.
	// Zero uses bcrypt.DefaultCost.
	BcryptCost int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL platform adapter
func New(ctx context.Context, config Config) (*Platform, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Platform{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (p *Platform) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (p *Platform) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Migrate creates the identities and parent_accounts tables if they do not
// exist. Intended for development and tests; production deployments usually
// run migrations out of band.
func (p *Platform) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS identities (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL UNIQUE,
			display_name   TEXT NOT NULL DEFAULT '',
			password_hash  TEXT NOT NULL,
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS parent_accounts (
			identity_id   TEXT PRIMARY KEY REFERENCES identities(id),
			customer_id   TEXT UNIQUE,
			tier          TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT '',
			trial_ends_at TIMESTAMPTZ,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateIdentity implements provision.Platform
func (p *Platform) CreateIdentity(ctx context.Context, req *provision.NewIdentity) (*provision.Identity, error) {
	if req == nil || req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("invalid identity request")
	}

	email := provision.NormalizeEmail(req.Email)

	cost := p.config.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	ident := &provision.Identity{
		ID:            uuid.NewString(),
		Email:         email,
		DisplayName:   req.DisplayName,
		EmailVerified: req.EmailVerified,
		CreatedAt:     time.Now().UTC(),
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO identities (id, email, display_name, password_hash, email_verified, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		ident.ID, ident.Email, ident.DisplayName, string(hash), ident.EmailVerified, ident.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, provision.ErrIdentityExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	return ident, nil
}

// FindIdentityByEmail implements provision.Platform
func (p *Platform) FindIdentityByEmail(ctx context.Context, email string) (*provision.Identity, error) {
	var ident provision.Identity

	err := p.pool.QueryRow(ctx,
		`SELECT id, email, display_name, email_verified, created_at
			FROM identities WHERE email = $1`,
		provision.NormalizeEmail(email)).Scan(
		&ident.ID,
		&ident.Email,
		&ident.DisplayName,
		&ident.EmailVerified,
		&ident.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, provision.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return &ident, nil
}

// VerifyPassword checks a plaintext password against the stored hash for an
// identity reference.
func (p *Platform) VerifyPassword(ctx context.Context, identityID, password string) (bool, error) {
	var hash string

	err := p.pool.QueryRow(ctx,
		`SELECT password_hash FROM identities WHERE id = $1`,
		identityID).Scan(&hash)

	if err == pgx.ErrNoRows {
		return false, provision.ErrIdentityNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to load password hash: %w", err)
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// CreateAccount implements provision.Platform
func (p *Platform) CreateAccount(ctx context.Context, rec *provision.AccountRecord) error {
	if rec == nil || rec.IdentityID == "" {
		return fmt.Errorf("invalid account record")
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	// Empty customer references are stored as NULL so the unique constraint
	// only applies to rows actually carrying a reference.
	_, err := p.pool.Exec(ctx,
		`INSERT INTO parent_accounts (identity_id, customer_id, tier, status, trial_ends_at, updated_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)`,
		rec.IdentityID, rec.CustomerID, string(rec.Tier), string(rec.Status), rec.TrialEndsAt, updatedAt,
	)
	if isUniqueViolation(err) {
		return provision.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetAccountByIdentity implements provision.Platform
func (p *Platform) GetAccountByIdentity(ctx context.Context, identityID string) (*provision.AccountRecord, error) {
	return p.getAccount(ctx,
		`SELECT identity_id, customer_id, tier, status, trial_ends_at, updated_at
			FROM parent_accounts WHERE identity_id = $1`,
		identityID)
}

// GetAccountByCustomer implements provision.Platform
func (p *Platform) GetAccountByCustomer(ctx context.Context, customerID string) (*provision.AccountRecord, error) {
	if customerID == "" {
		return nil, provision.ErrAccountNotFound
	}
	return p.getAccount(ctx,
		`SELECT identity_id, customer_id, tier, status, trial_ends_at, updated_at
			FROM parent_accounts WHERE customer_id = $1`,
		customerID)
}

func (p *Platform) getAccount(ctx context.Context, query, arg string) (*provision.AccountRecord, error) {
	var rec provision.AccountRecord
	var customerID *string
	var trialEndsAt *time.Time

	err := p.pool.QueryRow(ctx, query, arg).Scan(
		&rec.IdentityID,
		&customerID,
		&rec.Tier,
		&rec.Status,
		&trialEndsAt,
		&rec.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, provision.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if customerID != nil {
		rec.CustomerID = *customerID
	}
	rec.TrialEndsAt = trialEndsAt
	return &rec, nil
}

// UpdateAccountByIdentity implements provision.Platform. Nil fields of the
// update are left untouched.
func (p *Platform) UpdateAccountByIdentity(
	ctx context.Context, identityID string, upd provision.AccountUpdate,
) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE parent_accounts SET
				customer_id = COALESCE(NULLIF($2, ''), customer_id),
				tier = COALESCE($3, tier),
				status = COALESCE($4, status),
				trial_ends_at = COALESCE($5, trial_ends_at),
				updated_at = NOW()
			WHERE identity_id = $1`,
		identityID, stringValue(upd.CustomerID),
		tierValue(upd.Tier), statusValue(upd.Status), upd.TrialEndsAt,
	)
	if isUniqueViolation(err) {
		return provision.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return provision.ErrAccountNotFound
	}

	return nil
}

// UpdateSubscriptionByCustomer implements provision.Platform. An empty Tier
// preserves the tier already on the row; a nil TrialEndsAt clears it.
func (p *Platform) UpdateSubscriptionByCustomer(
	ctx context.Context, customerID string, sub provision.SubscriptionState,
) error {
	if customerID == "" {
		return provision.ErrAccountNotFound
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE parent_accounts SET
				tier = COALESCE(NULLIF($2, ''), tier),
				status = $3,
				trial_ends_at = $4,
				updated_at = NOW()
			WHERE customer_id = $1`,
		customerID, string(sub.Tier), string(sub.Status), sub.TrialEndsAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return provision.ErrAccountNotFound
	}

	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func stringValue(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func tierValue(t *provision.PlanTier) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func statusValue(s *provision.SubscriptionStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
