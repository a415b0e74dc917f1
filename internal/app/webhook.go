/**
 * @description
 * This file implements the webhook reconciler: the handler-facing entry point
 * for payment notifications pushed by the Lightning provider. The webhook is a
 * fast path; the polling watcher remains the source of truth when webhooks are
 * lost, so every outcome here acknowledges the notification rather than
 * forcing the provider to retry.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/crowdpay/payments-service/internal/store"
)

// Webhook reconciliation outcomes.
const (
	WebhookOutcomeSettled          = "settled"
	WebhookOutcomeAlreadyProcessed = "already_processed"
	WebhookOutcomeNotFound         = "not_found"
	WebhookOutcomeIgnored          = "ignored"
	WebhookOutcomeDuplicate        = "duplicate"
)

// HandleWebhookNotification reconciles a provider payment notification against
// the contribution it references. All outcomes are acknowledgements; only
// store failures surface as errors.
func (s *Service) HandleWebhookNotification(ctx context.Context, notification domain.WebhookNotification) (string, error) {
	if notification.PaymentHash == "" {
		return WebhookOutcomeIgnored, nil
	}
	if !notification.Paid {
		log.Printf("level=info component=webhook msg=\"unpaid notification ignored\" payment_hash=%s", notification.PaymentHash)
		return WebhookOutcomeIgnored, nil
	}

	// Optional replay dedupe: an exact redelivery short-circuits before any
	// database work. First delivery proceeds; dedupe failures fall through to
	// the idempotent settlement path.
	if s.webhookDedupe != nil {
		firstSeen, err := s.webhookDedupe.MarkSeen(ctx, notification.PaymentHash)
		if err != nil {
			log.Printf("level=warn component=webhook msg=\"dedupe check failed; continuing\" payment_hash=%s err=%v", notification.PaymentHash, err)
		} else if !firstSeen {
			log.Printf("level=info component=webhook msg=\"duplicate notification ignored\" payment_hash=%s", notification.PaymentHash)
			return WebhookOutcomeDuplicate, nil
		}
	}

	contribution, err := s.repo.FindContributionByPaymentHash(ctx, notification.PaymentHash)
	if err != nil {
		if errors.Is(err, store.ErrContributionNotFound) {
			log.Printf("level=warn component=webhook msg=\"notification for unknown payment hash\" payment_hash=%s", notification.PaymentHash)
			return WebhookOutcomeNotFound, nil
		}
		s.forgetWebhook(ctx, notification.PaymentHash)
		return "", fmt.Errorf("failed to look up contribution: %w", err)
	}

	if contribution.IsPaid() {
		return WebhookOutcomeAlreadyProcessed, nil
	}

	applied, err := s.Settle(ctx, contribution, PaymentProof{
		Preimage:   notification.Preimage,
		SettledVia: domain.SettledViaWebhook,
	})
	if err != nil {
		s.forgetWebhook(ctx, notification.PaymentHash)
		return "", err
	}
	if !applied {
		return WebhookOutcomeAlreadyProcessed, nil
	}
	return WebhookOutcomeSettled, nil
}

// forgetWebhook releases the dedupe entry after a failed delivery so the
// provider's retry is not short-circuited as a duplicate. The watcher remains
// the backstop either way.
func (s *Service) forgetWebhook(ctx context.Context, paymentHash string) {
	if s.webhookDedupe == nil {
		return
	}
	if err := s.webhookDedupe.Forget(ctx, paymentHash); err != nil {
		log.Printf("level=warn component=webhook msg=\"failed to release dedupe entry\" payment_hash=%s err=%v", paymentHash, err)
	}
}
