package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/crowdpay/payments-service/internal/store"
	"github.com/crowdpay/payments-service/pkg/lnbitsclient"
	"github.com/google/uuid"
)

// fakeDeduper marks every hash after the first delivery as a duplicate.
type fakeDeduper struct {
	seen    map[string]bool
	forgets int
}

func (f *fakeDeduper) MarkSeen(ctx context.Context, paymentHash string) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[paymentHash] {
		return false, nil
	}
	f.seen[paymentHash] = true
	return true, nil
}

func (f *fakeDeduper) Forget(ctx context.Context, paymentHash string) error {
	delete(f.seen, paymentHash)
	f.forgets++
	return nil
}

func TestHandleWebhookNotification_UnpaidIgnored(t *testing.T) {
	svc := newServiceForTest(&fakeRepo{}, &fakeProvider{}, nil, ServiceConfig{})

	outcome, err := svc.HandleWebhookNotification(context.Background(), domain.WebhookNotification{
		PaymentHash: "hash1",
		Paid:        false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected ignored, got %q", outcome)
	}
}

func TestHandleWebhookNotification_MissingHashIgnored(t *testing.T) {
	svc := newServiceForTest(&fakeRepo{}, &fakeProvider{}, nil, ServiceConfig{})

	outcome, err := svc.HandleWebhookNotification(context.Background(), domain.WebhookNotification{Paid: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected ignored, got %q", outcome)
	}
}

func TestHandleWebhookNotification_UnknownHash(t *testing.T) {
	repo := &fakeRepo{
		findByPaymentHashFn: func(ctx context.Context, hash string) (*domain.Contribution, error) {
			return nil, store.ErrContributionNotFound
		},
	}
	svc := newServiceForTest(repo, &fakeProvider{}, nil, ServiceConfig{})

	outcome, err := svc.HandleWebhookNotification(context.Background(), domain.WebhookNotification{
		PaymentHash: "unknown",
		Paid:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != WebhookOutcomeNotFound {
		t.Fatalf("expected not_found, got %q", outcome)
	}
}

func TestHandleWebhookNotification_AlreadyPaid(t *testing.T) {
	contribution := pendingContribution(uuid.New(), 1000)
	contribution.PaymentStatus = domain.PaymentStatusPaid

	repo := &fakeRepo{
		findByPaymentHashFn: func(ctx context.Context, hash string) (*domain.Contribution, error) {
			return contribution, nil
		},
	}
	svc := newServiceForTest(repo, &fakeProvider{}, nil, ServiceConfig{})

	outcome, err := svc.HandleWebhookNotification(context.Background(), domain.WebhookNotification{
		PaymentHash: contribution.PaymentHash,
		Paid:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != WebhookOutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %q", outcome)
	}
	if repo.settledCount() != 0 {
		t.Fatal("already paid contribution must not be credited again")
	}
}

func TestHandleWebhookNotification_SettlesAndCancelsWatcher(t *testing.T) {
	contribution := pendingContribution(uuid.New(), 1000)

	repo := &fakeRepo{
		findByPaymentHashFn: func(ctx context.Context, hash string) (*domain.Contribution, error) {
			return contribution, nil
		},
		settleFn: func(ctx context.Context, id uuid.UUID, cID uuid.UUID, params store.SettlementParams) (bool, error) {
			return true, nil
		},
	}
	provider := &fakeProvider{
		checkStatusFn: func(ctx context.Context, paymentHash string) (*lnbitsclient.PaymentStatus, error) {
			return &lnbitsclient.PaymentStatus{Paid: false}, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newServiceForTest(repo, provider, publisher, ServiceConfig{
		PollingInterval:    time.Hour,
		PollingTimeout:     time.Hour,
		PlatformFeePercent: 2.5,
	})
	defer svc.Shutdown(time.Second)

	// A watcher is polling for this contribution when the webhook lands.
	svc.StartWatcher(contribution)

	outcome, err := svc.HandleWebhookNotification(context.Background(), domain.WebhookNotification{
		PaymentHash: contribution.PaymentHash,
		Paid:        true,
		Preimage:    "pre",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != WebhookOutcomeSettled {
		t.Fatalf("expected settled, got %q", outcome)
	}
	if repo.settledCount() != 1 {
		t.Fatalf("expected one applied settlement, got %d", repo.settledCount())
	}

	waitFor(t, 2*time.Second, func() bool { return svc.Registry().ActiveCount() == 0 })

	events := publisher.settled()
	if len(events) != 1 || events[0].SettledVia != domain.SettledViaWebhook {
		t.Fatalf("expected one webhook-settled event, got %+v", events)
	}
}

func TestHandleWebhookNotification_DuplicateShortCircuits(t *testing.T) {
	contribution := pendingContribution(uuid.New(), 1000)

	lookups := 0
	repo := &fakeRepo{
		findByPaymentHashFn: func(ctx context.Context, hash string) (*domain.Contribution, error) {
			lookups++
			return contribution, nil
		},
		settleFn: func(ctx context.Context, id uuid.UUID, cID uuid.UUID, params store.SettlementParams) (bool, error) {
			return true, nil
		},
	}
	svc := NewService(context.Background(), repo, &fakeProvider{}, &fakePublisher{}, NewWatcherRegistry(), &fakeDeduper{}, ServiceConfig{})

	notification := domain.WebhookNotification{PaymentHash: contribution.PaymentHash, Paid: true}

	outcome, err := svc.HandleWebhookNotification(context.Background(), notification)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != WebhookOutcomeSettled {
		t.Fatalf("expected settled on first delivery, got %q", outcome)
	}

	outcome, err = svc.HandleWebhookNotification(context.Background(), notification)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != WebhookOutcomeDuplicate {
		t.Fatalf("expected duplicate on redelivery, got %q", outcome)
	}
	if lookups != 1 {
		t.Fatalf("duplicate delivery must not hit the store, lookups=%d", lookups)
	}
}

// A delivery that fails after the dedupe mark must release the mark, so the
// provider's retry settles instead of short-circuiting as a duplicate for the
// dedupe TTL.
func TestHandleWebhookNotification_FailedDeliveryReleasesDedupe(t *testing.T) {
	contribution := pendingContribution(uuid.New(), 1000)

	attempts := 0
	repo := &fakeRepo{
		findByPaymentHashFn: func(ctx context.Context, hash string) (*domain.Contribution, error) {
			return contribution, nil
		},
		settleFn: func(ctx context.Context, id uuid.UUID, cID uuid.UUID, params store.SettlementParams) (bool, error) {
			attempts++
			if attempts == 1 {
				return false, errors.New("connection reset by peer")
			}
			return true, nil
		},
	}
	deduper := &fakeDeduper{}
	svc := NewService(context.Background(), repo, &fakeProvider{}, &fakePublisher{}, NewWatcherRegistry(), deduper, ServiceConfig{})

	notification := domain.WebhookNotification{PaymentHash: contribution.PaymentHash, Paid: true}

	if _, err := svc.HandleWebhookNotification(context.Background(), notification); err == nil {
		t.Fatal("expected the first delivery to fail")
	}
	if deduper.forgets != 1 {
		t.Fatalf("failed delivery must release the dedupe entry, forgets=%d", deduper.forgets)
	}

	outcome, err := svc.HandleWebhookNotification(context.Background(), notification)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if outcome != WebhookOutcomeSettled {
		t.Fatalf("expected the redelivery to settle, got %q", outcome)
	}
}
