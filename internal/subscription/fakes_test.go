package subscription

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/models"
	"github.com/PortNumber53/blockr/backend/internal/paystack"
)

type fakeGateway struct {
	mu            sync.Mutex
	prices        models.PriceTable
	verifications map[string]*paystack.Verification
	initErr       error
	verifyErr     error
	initCalls     []initCall
	verifyCalls   int
	verifyHook    func()
}

type initCall struct {
	email     string
	amount    int64
	reference string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		prices:        models.DefaultPriceTable(),
		verifications: map[string]*paystack.Verification{},
	}
}

func (g *fakeGateway) CalculateAmount(tier models.Tier) (int64, error) {
	amount, ok := g.prices.AmountFor(tier)
	if !ok {
		return 0, models.ErrInvalidTier
	}
	return amount, nil
}

func (g *fakeGateway) InitializeTransaction(_ context.Context, email string, amount int64, reference string) (*paystack.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.initErr != nil {
		return nil, g.initErr
	}
	g.initCalls = append(g.initCalls, initCall{email: email, amount: amount, reference: reference})
	return &paystack.Authorization{
		AuthorizationURL: "https://checkout.paystack.com/" + reference,
		AccessCode:       "access-" + reference,
		Reference:        reference,
	}, nil
}

func (g *fakeGateway) VerifyTransaction(_ context.Context, reference string) (*paystack.Verification, error) {
	if g.verifyHook != nil {
		g.verifyHook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	v, ok := g.verifications[reference]
	if !ok {
		return nil, models.NewGatewayError("verify transaction", 400, "Transaction reference not found", nil)
	}
	copied := *v
	return &copied, nil
}

func (g *fakeGateway) pay(reference string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifications[reference] = &paystack.Verification{
		Success:   true,
		Status:    "success",
		Reference: reference,
		Amount:    amount,
		Currency:  "NGN",
	}
}

func (g *fakeGateway) fail(reference string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifications[reference] = &paystack.Verification{
		Success:   false,
		Status:    "failed",
		Reference: reference,
		Amount:    399000,
		Currency:  "NGN",
	}
}

// memoryStore applies each write atomically under one lock, mirroring the
// transactional guarantees of the Postgres store.
type memoryStore struct {
	mu          sync.Mutex
	users       map[string]models.User
	subs        []models.Subscription
	seq         int
	activateErr error
}

func newMemoryStore(users ...models.User) *memoryStore {
	s := &memoryStore{users: map[string]models.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memoryStore) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &u, nil
}

func (s *memoryStore) LatestSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.userRows(userID)
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[0]
	return &latest, nil
}

func (s *memoryStore) ListSubscriptions(_ context.Context, userID string, limit int) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.userRows(userID)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *memoryStore) GetSubscriptionByReference(_ context.Context, reference string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.ProviderReference == reference {
			found := sub
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) ActivateSubscription(_ context.Context, sub *models.Subscription, tier models.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activateErr != nil {
		return s.activateErr
	}
	user, ok := s.users[sub.UserID]
	if !ok {
		return models.ErrUserNotFound
	}
	for _, existing := range s.subs {
		if existing.ProviderReference == sub.ProviderReference {
			return models.ErrDuplicateReference
		}
	}

	s.seq++
	sub.ID = fmt.Sprintf("sub-%d", s.seq)
	sub.CreatedAt = sub.StartedAt.Add(time.Duration(s.seq) * time.Nanosecond)
	s.subs = append(s.subs, *sub)

	expires := sub.ExpiresAt
	user.Tier = tier
	user.SubscriptionExpiresAt = &expires
	s.users[user.ID] = user
	return nil
}

func (s *memoryStore) CancelSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	if user.Tier == models.TierFree {
		return nil, models.ErrNoActiveSubscription
	}

	var cancelled *models.Subscription
	if rows := s.userRows(userID); len(rows) > 0 {
		for i := range s.subs {
			if s.subs[i].ID == rows[0].ID {
				s.subs[i].Status = models.SubscriptionCancelled
				c := s.subs[i]
				cancelled = &c
			}
		}
	}

	user.Tier = models.TierFree
	user.SubscriptionExpiresAt = nil
	s.users[userID] = user
	return cancelled, nil
}

func (s *memoryStore) userRows(userID string) []models.Subscription {
	var rows []models.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			rows = append(rows, sub)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return rows
}

func (s *memoryStore) user(id string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memoryStore) ledgerSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func freeUser(id string) models.User {
	return models.User{
		ID:    id,
		Email: id + "@example.com",
		Name:  "Test User",
		Tier:  models.TierFree,
	}
}

func newTestManager(t *testing.T, gw *fakeGateway, st *memoryStore, clock *fixedClock) *Manager {
	t.Helper()

	m, err := NewManager(gw, st, models.DefaultPriceTable(),
		WithClock(clock.Now),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return m
}
