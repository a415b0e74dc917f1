/**
 * @description
 * This file implements the settlement applier: the single code path through
 * which a contribution transitions to paid. The watcher, the webhook reconciler
 * and the inline status check all funnel confirmations here, so the
 * exactly-once guarantee lives in one place.
 *
 * Settlement sequence:
 * 1. One transactional store write: conditional update pending -> paid plus
 *    the atomic campaign credit. Losing a race returns applied=false and the
 *    caller treats the settlement as already done; a write failure rolls the
 *    whole settlement back and surfaces as an error.
 * 2. Cancel the contribution's watcher, if one is still running.
 * 3. Publish a payment.settled event for downstream consumers.
 *
 * Steps 2-3 run only for the winning writer.
 *
 * @dependencies
 * - context, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/crowdpay/payments-service/internal/store"
)

// PaymentProof carries the provider-side evidence a settlement is based on.
type PaymentProof struct {
	Preimage   string
	SettledVia string // "watcher", "webhook" or "status_check"
}

// ComputePlatformFee splits a gross contribution amount into the platform fee
// and the creator's net amount. The fee is integer-truncated so the creator
// never loses a sat to rounding.
func ComputePlatformFee(amountSats int64, feePercent float64) (platformFee, creatorAmount int64) {
	platformFee = int64(float64(amountSats) * feePercent / 100)
	if platformFee < 0 {
		platformFee = 0
	}
	if platformFee > amountSats {
		platformFee = amountSats
	}
	creatorAmount = amountSats - platformFee
	return platformFee, creatorAmount
}

// Settle applies a confirmed payment to a contribution. It is idempotent:
// concurrent or repeated calls for the same contribution settle it exactly
// once, and losers return (false, nil).
func (s *Service) Settle(ctx context.Context, contribution *domain.Contribution, proof PaymentProof) (bool, error) {
	platformFee, creatorAmount := ComputePlatformFee(contribution.Amount, s.platformFeePercent)

	var transactionID *string
	if proof.Preimage != "" {
		transactionID = &proof.Preimage
	}

	applied, err := s.repo.SettleContribution(ctx, contribution.ID, contribution.CampaignID, store.SettlementParams{
		TransactionID: transactionID,
		PlatformFee:   platformFee,
		CreatorAmount: creatorAmount,
		PaidAt:        time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to settle contribution: %w", err)
	}
	if !applied {
		log.Printf("level=info component=settlement msg=\"contribution already settled\" contribution_id=%s via=%s", contribution.ID, proof.SettledVia)
		return false, nil
	}

	log.Printf("level=info component=settlement msg=\"contribution settled\" contribution_id=%s campaign_id=%s amount=%d fee=%d creator_amount=%d via=%s",
		contribution.ID, contribution.CampaignID, contribution.Amount, platformFee, creatorAmount, proof.SettledVia)

	// Stop the watcher if the confirmation arrived through another path.
	s.registry.Cancel(contribution.ID)

	event := domain.SettledEvent{
		ContributionID: contribution.ID,
		CampaignID:     contribution.CampaignID,
		Amount:         contribution.Amount,
		PlatformFee:    platformFee,
		CreatorAmount:  creatorAmount,
		PaymentHash:    contribution.PaymentHash,
		SettledVia:     proof.SettledVia,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.eventProducer.PublishSettledEvent(ctx, event); err != nil {
		log.Printf("level=warn component=settlement msg=\"failed to publish settled event\" contribution_id=%s err=%v", contribution.ID, err)
	}

	return true, nil
}
