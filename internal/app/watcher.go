/**
 * @description
 * This file implements the reconciliation watcher: one goroutine per pending
 * contribution that polls the Lightning provider until the invoice is paid,
 * expires, or the watcher is cancelled.
 *
 * Lifecycle:
 * - Started by the service right after a contribution is persisted, and again
 *   at boot for contributions found pending (resume after restart).
 * - Registered in the watcher registry under the contribution id; the registry
 *   entry is removed on every exit path via defer.
 * - Provider errors are transient: logged and retried on the next tick.
 * - An invoice the provider reports as no longer pending, or past its expiry
 *   window, is marked expired immediately; the local polling timeout is the
 *   backstop.
 * - Context cancellation (settled elsewhere, explicit cancel, shutdown) stops
 *   the watcher without any database writes.
 *
 * @dependencies
 * - context, log, time: Standard Go libraries.
 * - internal/domain: For domain models.
 * - pkg/lnbitsclient: For provider payment status classification.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/crowdpay/payments-service/pkg/lnbitsclient"
)

// StartWatcher launches a reconciliation watcher goroutine for a pending
// contribution. Returns false when a watcher is already running for it.
func (s *Service) StartWatcher(contribution *domain.Contribution) bool {
	ctx, cancel := context.WithCancel(s.baseCtx)
	if !s.registry.Register(contribution.ID, cancel) {
		cancel()
		log.Printf("level=warn component=watcher msg=\"watcher already registered\" contribution_id=%s", contribution.ID)
		return false
	}

	s.watcherWG.Add(1)
	go s.watch(ctx, contribution)
	return true
}

// watch is the polling loop body. It owns the registry entry for the
// contribution and releases it on exit.
func (s *Service) watch(ctx context.Context, contribution *domain.Contribution) {
	defer s.watcherWG.Done()
	defer s.registry.Remove(contribution.ID)

	log.Printf("level=info component=watcher msg=\"watcher started\" contribution_id=%s payment_hash=%s interval=%s timeout=%s",
		contribution.ID, contribution.PaymentHash, s.pollingInterval, s.pollingTimeout)

	deadline := time.NewTimer(s.pollingTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("level=info component=watcher msg=\"watcher cancelled\" contribution_id=%s", contribution.ID)
			return

		case <-deadline.C:
			s.expireContribution(contribution)
			return

		case <-ticker.C:
			done := s.pollOnce(ctx, contribution)
			if done {
				return
			}
		}
	}
}

// pollOnce performs a single provider status check. Returns true when the
// watcher should stop.
func (s *Service) pollOnce(ctx context.Context, contribution *domain.Contribution) bool {
	status, err := s.provider.CheckStatus(ctx, contribution.PaymentHash)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Transient: the provider may be briefly unreachable. Keep polling.
		log.Printf("level=warn component=watcher msg=\"status check failed; will retry\" contribution_id=%s err=%v", contribution.ID, err)
		return false
	}

	if !status.Paid {
		if providerTerminal(status) {
			s.expireContribution(contribution)
			return true
		}
		return false
	}

	settleCtx, cancel := context.WithTimeout(s.baseCtx, settlementTimeout)
	defer cancel()

	if _, err := s.Settle(settleCtx, contribution, PaymentProof{
		Preimage:   status.Preimage,
		SettledVia: domain.SettledViaWatcher,
	}); err != nil {
		log.Printf("level=error component=watcher msg=\"settlement failed; will retry\" contribution_id=%s err=%v", contribution.ID, err)
		return false
	}
	return true
}

// providerTerminal reports whether the provider considers an unpaid invoice
// finished. LNbits signals this either through the pending flag on populated
// payment details, or implicitly once the invoice's expiry window has passed.
func providerTerminal(status *lnbitsclient.PaymentStatus) bool {
	if status.Details.CheckingID != "" && !status.Details.Pending {
		return true
	}
	return status.Details.Time > 0 && status.Details.Expiry > 0 &&
		time.Now().Unix() > status.Details.Time+status.Details.Expiry
}

// expireContribution marks a contribution expired after the polling window
// elapses without payment. The invoice itself expires provider-side.
func (s *Service) expireContribution(contribution *domain.Contribution) {
	ctx, cancel := context.WithTimeout(s.baseCtx, settlementTimeout)
	defer cancel()

	applied, err := s.repo.MarkContributionStatus(ctx, contribution.ID, domain.PaymentStatusExpired)
	if err != nil {
		log.Printf("level=error component=watcher msg=\"failed to mark contribution expired\" contribution_id=%s err=%v", contribution.ID, err)
		return
	}
	if applied {
		log.Printf("level=info component=watcher msg=\"contribution expired\" contribution_id=%s payment_hash=%s", contribution.ID, contribution.PaymentHash)
	}
}

// settlementTimeout bounds the database work done after the watcher's own
// context may already be cancelled.
const settlementTimeout = 15 * time.Second
