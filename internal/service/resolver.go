package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
	"github.com/kursadbilgin/moments-broadcast/internal/repository"
)

// Resolver returns the opted-in audience of a content item's targeting.
type Resolver struct {
	subscribers repository.SubscriberRepository
}

func NewResolver(subscribers repository.SubscriberRepository) (*Resolver, error) {
	if subscribers == nil {
		return nil, fmt.Errorf("subscriber repository is required")
	}
	return &Resolver{subscribers: subscribers}, nil
}

// Resolve returns opted-in recipients matching targeting, without duplicate phones, in
// store order. Any store error is reported as ErrResolverFailure.
func (r *Resolver) Resolve(ctx context.Context, targeting domain.Targeting) ([]domain.Recipient, error) {
	targeting = targeting.Normalize()

	found, err := r.subscribers.FindOptedIn(ctx, targeting)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrResolverFailure, err)
	}

	seen := make(map[string]struct{}, len(found))
	recipients := make([]domain.Recipient, 0, len(found))
	for _, rcpt := range found {
		phone := strings.TrimSpace(rcpt.Phone)
		if phone == "" || !rcpt.OptedIn || !targeting.Matches(rcpt) {
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		rcpt.Phone = phone
		recipients = append(recipients, rcpt)
	}
	return recipients, nil
}

func recipientPhones(recipients []domain.Recipient) []string {
	phones := make([]string, 0, len(recipients))
	for _, r := range recipients {
		phones = append(phones, r.Phone)
	}
	return phones
}
