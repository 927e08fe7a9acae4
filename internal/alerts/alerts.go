// Package alerts records visitors who asked to be emailed about new roles.
package alerts

import (
	"context"
	"errors"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/comigor/muhtesem-assistant/internal/logger"
)

// ErrInvalidEmail is returned for addresses that cannot receive alerts.
var ErrInvalidEmail = errors.New("alerts: a valid email address is required")

// Subscription is one alert signup. An empty Category means every category.
type Subscription struct {
	Email     string    `json:"email"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service takes alert signups. Delivery to the mailing system is simulated
// by waiting Delay.
type Service struct {
	Delay time.Duration

	mu   sync.Mutex
	subs map[string]Subscription // lower-cased email -> subscription
}

// New creates a service whose signups take delay to complete.
func New(delay time.Duration) *Service {
	return &Service{Delay: delay, subs: make(map[string]Subscription)}
}

// Subscribe signs email up for alerts in category. Signing up again replaces
// the category of the earlier signup.
func (s *Service) Subscribe(ctx context.Context, email, category string) (Subscription, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || !strings.Contains(addr.Address, ".") {
		return Subscription{}, ErrInvalidEmail
	}

	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	case <-t.C:
	}

	sub := Subscription{Email: addr.Address, Category: strings.TrimSpace(category), CreatedAt: time.Now()}
	key := strings.ToLower(addr.Address)

	s.mu.Lock()
	if prev, ok := s.subs[key]; ok {
		sub.CreatedAt = prev.CreatedAt
	}
	s.subs[key] = sub
	s.mu.Unlock()

	logger.FromContext(ctx).Info("job alert subscription", "category", sub.Category)
	return sub, nil
}

// Subscriptions lists signups ordered by email.
func (s *Service) Subscriptions() []Subscription {
	s.mu.Lock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Subscription) int { return strings.Compare(a.Email, b.Email) })
	return out
}
