package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/models"
)

const (
	defaultPageSize = 200

	// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
	uniqueViolation = "23505"
)

// Store provides database-backed accessors for users and the subscription ledger.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db, log: logrus.WithField("component", "store")}, nil
}

const userColumns = `id, email, name, subscription_tier, subscription_expires_at, created_at, updated_at`

const subscriptionColumns = `id, user_id, provider_reference, amount, currency, status, started_at, expires_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		expiresAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Tier, &expiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.SubscriptionExpiresAt = nullTimePtr(expiresAt)
	return &u, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProviderReference,
		&sub.Amount,
		&sub.Currency,
		&sub.Status,
		&sub.StartedAt,
		&sub.ExpiresAt,
		&sub.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateUser inserts a new account on the free tier. Registration itself lives
// outside this service; the method exists for provisioning and tooling.
func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	row := s.db.QueryRowContext(ctx, `
INSERT INTO users (id, email, name, password_hash, subscription_tier, subscription_expires_at)
VALUES ($1, $2, $3, $4, 'free', NULL)
RETURNING `+userColumns,
		uuid.NewString(),
		email,
		name,
		passwordHash,
	)

	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("store: user with email %s already exists", email)
		}
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return user, nil
}

// GetUserByID loads a user together with its entitlement fields.
func (s *Store) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return user, nil
}

// LatestSubscription returns the most recently created ledger row for the user,
// or nil when the user has never paid.
func (s *Store) LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1
`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByReference finds the ledger row recorded for a provider
// reference, or nil when the reference has not been processed.
func (s *Store) GetSubscriptionByReference(ctx context.Context, reference string) (*models.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_reference = $1`,
		reference,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subscription by reference: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns up to `limit` ledger rows for the user, newest first.
func (s *Store) ListSubscriptions(ctx context.Context, userID string, limit int) ([]models.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate subscriptions: %w", err)
	}

	return subs, nil
}

// ActivateSubscription appends a ledger row and moves the user onto the paid
// tier in a single transaction. When the provider reference is already in the
// ledger nothing is written and ErrDuplicateReference is returned.
func (s *Store) ActivateSubscription(ctx context.Context, sub *models.Subscription, tier models.Tier) error {
	if s == nil || s.db == nil {
		return errors.New("store: db cannot be nil")
	}
	if !tier.IsPaid() {
		return fmt.Errorf("store: activate subscription: %w", models.ErrInvalidTier)
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin activate subscription tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockUser(ctx, tx, sub.UserID); err != nil {
		return err
	}

	if err := tx.QueryRowContext(ctx, `
INSERT INTO subscriptions (id, user_id, provider_reference, amount, currency, status, started_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at`,
		sub.ID,
		sub.UserID,
		sub.ProviderReference,
		sub.Amount,
		sub.Currency,
		sub.Status,
		sub.StartedAt,
		sub.ExpiresAt,
	).Scan(&sub.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			s.log.WithField("reference", sub.ProviderReference).Info("provider reference already recorded")
			return models.ErrDuplicateReference
		}
		return fmt.Errorf("store: insert subscription: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE users
SET subscription_tier = $1,
    subscription_expires_at = $2,
    updated_at = now()
WHERE id = $3`,
		tier,
		sub.ExpiresAt,
		sub.UserID,
	); err != nil {
		return fmt.Errorf("store: update user entitlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit activate subscription tx: %w", err)
	}

	return nil
}

// CancelSubscription marks the user's most recent ledger row cancelled and
// resets the user to the free tier. It returns the cancelled row, which is nil
// when the user has no ledger history. Users already on the free tier get
// ErrNoActiveSubscription and nothing is written.
func (s *Store) CancelSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin cancel subscription tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var tier models.Tier
	if err := tx.QueryRowContext(ctx,
		`SELECT subscription_tier FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&tier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("store: lock user: %w", err)
	}

	if tier == models.TierFree {
		return nil, models.ErrNoActiveSubscription
	}

	latest, err := scanSubscription(tx.QueryRowContext(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE`, userID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: latest subscription: %w", err)
	}

	if latest != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE subscriptions SET status = $1 WHERE id = $2`,
			models.SubscriptionCancelled,
			latest.ID,
		); err != nil {
			return nil, fmt.Errorf("store: cancel subscription: %w", err)
		}
		latest.Status = models.SubscriptionCancelled
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE users
SET subscription_tier = 'free',
    subscription_expires_at = NULL,
    updated_at = now()
WHERE id = $1`, userID); err != nil {
		return nil, fmt.Errorf("store: reset user entitlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit cancel subscription tx: %w", err)
	}

	return latest, nil
}

func lockUser(ctx context.Context, tx *sql.Tx, userID string) error {
	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrUserNotFound
		}
		return fmt.Errorf("store: lock user: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
