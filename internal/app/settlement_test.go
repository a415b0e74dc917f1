package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/crowdpay/payments-service/internal/store"
	"github.com/google/uuid"
)

func TestComputePlatformFee(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		feePercent float64
		wantFee    int64
		wantNet    int64
	}{
		{name: "standard fee", amount: 1000, feePercent: 2.5, wantFee: 25, wantNet: 975},
		{name: "fee truncates toward creator", amount: 999, feePercent: 2.5, wantFee: 24, wantNet: 975},
		{name: "zero fee", amount: 1000, feePercent: 0, wantFee: 0, wantNet: 1000},
		{name: "full fee", amount: 1000, feePercent: 100, wantFee: 1000, wantNet: 0},
		{name: "small amount rounds fee to zero", amount: 10, feePercent: 2.5, wantFee: 0, wantNet: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, net := ComputePlatformFee(tt.amount, tt.feePercent)
			if fee != tt.wantFee || net != tt.wantNet {
				t.Fatalf("expected fee=%d net=%d, got fee=%d net=%d", tt.wantFee, tt.wantNet, fee, net)
			}
			if fee+net != tt.amount {
				t.Fatalf("fee %d + net %d must equal amount %d", fee, net, tt.amount)
			}
		})
	}
}

func TestSettle_AppliesExactlyOnce(t *testing.T) {
	campaignID := uuid.New()
	contribution := pendingContribution(campaignID, 1000)

	repo := &fakeRepo{
		settleFn: func(ctx context.Context, id uuid.UUID, cID uuid.UUID, params store.SettlementParams) (bool, error) {
			if params.PlatformFee != 25 || params.CreatorAmount != 975 {
				t.Fatalf("unexpected settlement params: %+v", params)
			}
			return true, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newServiceForTest(repo, &fakeProvider{}, publisher, ServiceConfig{PlatformFeePercent: 2.5})

	applied, err := svc.Settle(context.Background(), contribution, PaymentProof{Preimage: "pre", SettledVia: domain.SettledViaWebhook})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected settlement to apply")
	}
	if repo.settledCount() != 1 {
		t.Fatalf("expected one applied settlement, got %d", repo.settledCount())
	}
	if repo.lastCreatorAmount != 975 {
		t.Fatalf("campaign must be credited the net amount, got %d", repo.lastCreatorAmount)
	}
	if repo.lastSettledCampaign != campaignID {
		t.Fatalf("wrong campaign credited: %s", repo.lastSettledCampaign)
	}

	events := publisher.settled()
	if len(events) != 1 {
		t.Fatalf("expected one settled event, got %d", len(events))
	}
	if events[0].SettledVia != domain.SettledViaWebhook || events[0].CreatorAmount != 975 {
		t.Fatalf("unexpected settled event: %+v", events[0])
	}
}

func TestSettle_LoserIsNoOp(t *testing.T) {
	contribution := pendingContribution(uuid.New(), 1000)

	repo := &fakeRepo{
		settleFn: func(ctx context.Context, id uuid.UUID, cID uuid.UUID, params store.SettlementParams) (bool, error) {
			return false, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newServiceForTest(repo, &fakeProvider{}, publisher, ServiceConfig{PlatformFeePercent: 2.5})

	applied, err := svc.Settle(context.Background(), contribution, PaymentProof{SettledVia: domain.SettledViaWatcher})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected settlement to be a no-op")
	}
	if repo.settledCount() != 0 {
		t.Fatal("losing settlement must not credit the campaign")
	}
	if len(publisher.settled()) != 0 {
		t.Fatal("losing settlement must not publish an event")
	}
}

// A failed store write must surface as an error and produce no settled event:
// the transaction rolled the paid transition and the campaign credit back
// together, so downstream consumers must not hear about a settlement that
// never happened.
func TestSettle_StoreFailureSurfacesAndPublishesNothing(t *testing.T) {
	contribution := pendingContribution(uuid.New(), 1000)

	storeErr := errors.New("deadlock detected")
	repo := &fakeRepo{
		settleFn: func(ctx context.Context, id uuid.UUID, cID uuid.UUID, params store.SettlementParams) (bool, error) {
			return false, storeErr
		},
	}
	publisher := &fakePublisher{}
	svc := newServiceForTest(repo, &fakeProvider{}, publisher, ServiceConfig{PlatformFeePercent: 2.5})

	applied, err := svc.Settle(context.Background(), contribution, PaymentProof{SettledVia: domain.SettledViaWebhook})
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected the store error to surface, got %v", err)
	}
	if applied {
		t.Fatal("failed settlement must not report applied")
	}
	if len(publisher.settled()) != 0 {
		t.Fatal("failed settlement must not publish an event")
	}
}

// TestSettle_ConcurrentPathsSettleOnce simulates the watcher and the webhook
// racing on one contribution: the conditional store write admits exactly one
// winner regardless of interleaving.
func TestSettle_ConcurrentPathsSettleOnce(t *testing.T) {
	contribution := pendingContribution(uuid.New(), 2000)

	var mu sync.Mutex
	settled := false
	repo := &fakeRepo{
		settleFn: func(ctx context.Context, id uuid.UUID, cID uuid.UUID, params store.SettlementParams) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return false, nil
			}
			settled = true
			return true, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newServiceForTest(repo, &fakeProvider{}, publisher, ServiceConfig{PlatformFeePercent: 2.5})

	var wg sync.WaitGroup
	appliedCount := 0
	var appliedMu sync.Mutex
	for _, via := range []string{domain.SettledViaWatcher, domain.SettledViaWebhook} {
		wg.Add(1)
		go func(via string) {
			defer wg.Done()
			applied, err := svc.Settle(context.Background(), contribution, PaymentProof{SettledVia: via})
			if err != nil {
				t.Errorf("unexpected error via %s: %v", via, err)
				return
			}
			if applied {
				appliedMu.Lock()
				appliedCount++
				appliedMu.Unlock()
			}
		}(via)
	}
	wg.Wait()

	if appliedCount != 1 {
		t.Fatalf("expected exactly one winning settlement, got %d", appliedCount)
	}
	if repo.settledCount() != 1 {
		t.Fatalf("expected exactly one applied settlement, got %d", repo.settledCount())
	}
	if len(publisher.settled()) != 1 {
		t.Fatalf("expected exactly one settled event, got %d", len(publisher.settled()))
	}
}
