/**
 * @description
 * This file contains the core business logic for the payments-service. The
 * `Service` struct orchestrates campaign and contribution operations,
 * coordinating between the database repository, the LNbits provider client,
 * the watcher registry and the message broker.
 *
 * Key features:
 * - Implements the main use cases: campaign CRUD and the contribution payment
 *   lifecycle (create invoice, watch, settle, cancel).
 * - Owns the watcher lifecycle: every pending contribution gets exactly one
 *   reconciliation watcher, resumed across restarts.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, math, strings, sync, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/lnbitsclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/crowdpay/payments-service/internal/store"
	"github.com/crowdpay/payments-service/pkg/lnbitsclient"
	"github.com/crowdpay/payments-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

const (
	SatsPerBTC              = 100_000_000
	MaxStandaloneInvoiceSat = 10_000_000
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrCampaignNotActive = errors.New("campaign is not accepting contributions")
	ErrAmountTooSmall    = errors.New("contribution amount below minimum")
	ErrNotPending        = errors.New("contribution is not pending")
	ErrNotCampaignOwner  = errors.New("not the campaign owner")
)

// InvoiceProvider is the subset of the LNbits client the service depends on.
// Declared as an interface so tests can substitute a stub provider.
type InvoiceProvider interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string, expirySeconds int) (*lnbitsclient.Invoice, error)
	CheckStatus(ctx context.Context, paymentHash string) (*lnbitsclient.PaymentStatus, error)
	DecodeInvoice(ctx context.Context, bolt11 string) (*lnbitsclient.DecodedInvoice, error)
	PayInvoice(ctx context.Context, bolt11 string) (*lnbitsclient.PayResult, error)
	GetWalletDetails(ctx context.Context) (*lnbitsclient.WalletDetails, error)
	GetPayments(ctx context.Context, limit int) ([]lnbitsclient.Payment, error)
}

// ServiceConfig carries the tunables the service needs from configuration.
type ServiceConfig struct {
	PollingInterval      time.Duration
	PollingTimeout       time.Duration
	PlatformFeePercent   float64
	MinContributionSats  int64
	InvoiceExpirySeconds int
}

// Service provides the core business logic for payments.
type Service struct {
	repo          store.Repository
	provider      InvoiceProvider
	eventProducer rabbitmq.Publisher
	registry      *WatcherRegistry
	webhookDedupe WebhookDeduper

	// baseCtx parents every watcher context so shutdown cancels them all.
	baseCtx   context.Context
	watcherWG sync.WaitGroup

	pollingInterval      time.Duration
	pollingTimeout       time.Duration
	platformFeePercent   float64
	minContributionSats  int64
	invoiceExpirySeconds int
}

// NewService creates a new payments service instance.
func NewService(baseCtx context.Context, repo store.Repository, provider InvoiceProvider, producer rabbitmq.Publisher, registry *WatcherRegistry, dedupe WebhookDeduper, cfg ServiceConfig) *Service {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 30 * time.Second
	}
	if cfg.PollingTimeout <= 0 {
		cfg.PollingTimeout = time.Hour
	}
	if cfg.MinContributionSats <= 0 {
		cfg.MinContributionSats = 100
	}
	if cfg.InvoiceExpirySeconds <= 0 {
		cfg.InvoiceExpirySeconds = 3600
	}

	return &Service{
		repo:                 repo,
		provider:             provider,
		eventProducer:        producer,
		registry:             registry,
		webhookDedupe:        dedupe,
		baseCtx:              baseCtx,
		pollingInterval:      cfg.PollingInterval,
		pollingTimeout:       cfg.PollingTimeout,
		platformFeePercent:   cfg.PlatformFeePercent,
		minContributionSats:  cfg.MinContributionSats,
		invoiceExpirySeconds: cfg.InvoiceExpirySeconds,
	}
}

// Registry exposes the watcher registry for observability endpoints.
func (s *Service) Registry() *WatcherRegistry {
	return s.registry
}

// ---------------------------------------------------------------------------
// Campaigns
// ---------------------------------------------------------------------------

var validCurrencies = map[string]bool{"SATS": true, "BTC": true}

// CreateCampaign validates and persists a new campaign.
func (s *Service) CreateCampaign(ctx context.Context, req domain.CreateCampaignRequest) (*domain.Campaign, error) {
	title := strings.TrimSpace(req.Title)
	if len(title) < 3 || len(title) > 200 {
		return nil, fmt.Errorf("%w: title must be 3-200 characters", ErrValidation)
	}
	description := strings.TrimSpace(req.Description)
	if len(description) < 10 || len(description) > 2000 {
		return nil, fmt.Errorf("%w: description must be 10-2000 characters", ErrValidation)
	}
	if req.TargetAmount <= 0 {
		return nil, fmt.Errorf("%w: target amount must be positive", ErrValidation)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "SATS"
	}
	if !validCurrencies[currency] {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrValidation, req.Currency)
	}
	if strings.TrimSpace(req.CreatorID) == "" {
		return nil, fmt.Errorf("%w: creator id is required", ErrValidation)
	}
	if req.EndDate != nil && req.EndDate.Before(time.Now()) {
		return nil, fmt.Errorf("%w: end date must be in the future", ErrValidation)
	}

	campaign := &domain.Campaign{
		ID:           uuid.New(),
		Title:        title,
		Description:  description,
		TargetAmount: req.TargetAmount,
		Currency:     currency,
		CreatorID:    strings.TrimSpace(req.CreatorID),
		CreatorEmail: req.CreatorEmail,
		Status:       domain.CampaignStatusActive,
		EndDate:      req.EndDate,
	}

	created, err := s.repo.CreateCampaign(ctx, campaign)
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	log.Printf("level=info component=service msg=\"campaign created\" campaign_id=%s creator_id=%s target=%d", created.ID, created.CreatorID, created.TargetAmount)
	return created, nil
}

// GetCampaign retrieves a campaign by id.
func (s *Service) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	return s.repo.FindCampaignByID(ctx, campaignID)
}

// GetCampaignStatistics retrieves a campaign together with contribution stats.
func (s *Service) GetCampaignStatistics(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, *domain.CampaignStatistics, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	total, paid, err := s.repo.CampaignContributionStats(ctx, campaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load contribution stats: %w", err)
	}
	stats := &domain.CampaignStatistics{
		ProgressPercentage: campaign.ProgressPercentage(),
		RemainingAmount:    campaign.RemainingAmount(),
		TotalContributions: total,
		PaidContributions:  paid,
		IsGoalReached:      campaign.IsGoalReached(),
	}
	return campaign, stats, nil
}

// ListCampaigns retrieves campaigns with optional filters.
func (s *Service) ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error) {
	if opts.Status != "" && !domain.ValidCampaignStatus(strings.ToLower(opts.Status)) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, opts.Status)
	}
	return s.repo.ListCampaigns(ctx, opts)
}

// UpdateCampaign applies a creator's partial update to their campaign.
func (s *Service) UpdateCampaign(ctx context.Context, campaignID uuid.UUID, creatorID string, req domain.UpdateCampaignRequest) (*domain.Campaign, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.CreatorID != creatorID {
		return nil, ErrNotCampaignOwner
	}

	params := store.UpdateCampaignParams{EndDate: req.EndDate}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if len(title) < 3 || len(title) > 200 {
			return nil, fmt.Errorf("%w: title must be 3-200 characters", ErrValidation)
		}
		params.Title = &title
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if len(description) < 10 || len(description) > 2000 {
			return nil, fmt.Errorf("%w: description must be 10-2000 characters", ErrValidation)
		}
		params.Description = &description
	}
	if req.TargetAmount != nil {
		if *req.TargetAmount <= 0 {
			return nil, fmt.Errorf("%w: target amount must be positive", ErrValidation)
		}
		params.TargetAmount = req.TargetAmount
	}
	if req.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*req.Status))
		if !domain.ValidCampaignStatus(status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *req.Status)
		}
		params.Status = &status
	}

	return s.repo.UpdateCampaign(ctx, campaignID, params)
}

// DeleteCampaign soft-deletes a campaign by marking it cancelled.
// Settled contributions are retained.
func (s *Service) DeleteCampaign(ctx context.Context, campaignID uuid.UUID, creatorID string) error {
	campaign, err := s.repo.FindCampaignByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.CreatorID != creatorID {
		return ErrNotCampaignOwner
	}

	cancelled := domain.CampaignStatusCancelled
	if _, err := s.repo.UpdateCampaign(ctx, campaignID, store.UpdateCampaignParams{Status: &cancelled}); err != nil {
		return err
	}
	log.Printf("level=info component=service msg=\"campaign cancelled\" campaign_id=%s creator_id=%s", campaignID, creatorID)
	return nil
}

// ---------------------------------------------------------------------------
// Contributions
// ---------------------------------------------------------------------------

// normalizeAmountSats converts a request amount in the given currency to whole
// sats. BTC amounts are converted at 100,000,000 sats per BTC.
func normalizeAmountSats(amount float64, currency string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "", "SATS", "SAT":
		if amount != math.Trunc(amount) {
			return 0, fmt.Errorf("%w: sat amounts must be whole numbers", ErrValidation)
		}
		return int64(amount), nil
	case "BTC":
		return int64(math.Round(amount * SatsPerBTC)), nil
	default:
		return 0, fmt.Errorf("%w: unsupported currency %q", ErrValidation, currency)
	}
}

// buildMemo derives the invoice memo shown in the payer's wallet.
func buildMemo(campaignTitle string, contributorName *string, anonymous bool) string {
	memo := "Contribution to " + campaignTitle
	if !anonymous && contributorName != nil && strings.TrimSpace(*contributorName) != "" {
		memo += " from " + strings.TrimSpace(*contributorName)
	}
	if len(memo) > 640 {
		memo = memo[:640]
	}
	return memo
}

// CreateContribution validates a pledge, creates its Lightning invoice, stores
// the contribution in pending state and starts its reconciliation watcher.
func (s *Service) CreateContribution(ctx context.Context, req domain.CreateContributionRequest) (*domain.CreateContributionResult, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.IsActive() {
		return nil, ErrCampaignNotActive
	}

	amountSats, err := normalizeAmountSats(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	if amountSats < s.minContributionSats {
		return nil, fmt.Errorf("%w: minimum is %d sats", ErrAmountTooSmall, s.minContributionSats)
	}

	memo := buildMemo(campaign.Title, req.ContributorName, req.IsAnonymous)
	invoice, err := s.provider.CreateInvoice(ctx, amountSats, memo, s.invoiceExpirySeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	contribution := &domain.Contribution{
		ID:               uuid.New(),
		CampaignID:       campaign.ID,
		ContributorName:  req.ContributorName,
		ContributorEmail: req.ContributorEmail,
		Amount:           amountSats,
		Currency:         "SATS",
		PaymentStatus:    domain.PaymentStatusPending,
		PaymentHash:      invoice.PaymentHash,
		PaymentRequest:   invoice.PaymentRequest,
		CheckingID:       invoice.CheckingID,
		Message:          req.Message,
		IsAnonymous:      req.IsAnonymous,
	}

	created, err := s.repo.CreateContribution(ctx, contribution)
	if err != nil {
		return nil, fmt.Errorf("failed to create contribution: %w", err)
	}

	log.Printf("level=info component=service msg=\"contribution created\" contribution_id=%s campaign_id=%s amount=%d payment_hash=%s",
		created.ID, created.CampaignID, created.Amount, created.PaymentHash)

	s.StartWatcher(created)

	if err := s.eventProducer.Publish(ctx, rabbitmq.PaymentEventsExchange, rabbitmq.RoutingKeyContributionCreated, created); err != nil {
		log.Printf("level=warn component=service msg=\"failed to publish contribution created event\" contribution_id=%s err=%v", created.ID, err)
	}

	return &domain.CreateContributionResult{
		Contribution:   created,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
	}, nil
}

// GetContribution retrieves a contribution by id.
func (s *Service) GetContribution(ctx context.Context, contributionID uuid.UUID) (*domain.Contribution, error) {
	return s.repo.FindContributionByID(ctx, contributionID)
}

// ListContributions retrieves contributions with optional filters.
func (s *Service) ListContributions(ctx context.Context, opts domain.ContributionListOptions) ([]domain.Contribution, error) {
	return s.repo.ListContributions(ctx, opts)
}

// CheckContributionStatus reports a contribution's payment status, performing
// an inline provider check while the contribution is still pending. A paid
// result settles through the same applier as the watcher and webhook, so a
// user polling the status page can be the path that confirms their payment.
func (s *Service) CheckContributionStatus(ctx context.Context, contributionID uuid.UUID) (*domain.ContributionStatusResult, error) {
	contribution, err := s.repo.FindContributionByID(ctx, contributionID)
	if err != nil {
		return nil, err
	}

	if contribution.IsPending() {
		status, err := s.provider.CheckStatus(ctx, contribution.PaymentHash)
		if err != nil {
			// Live check failed; report the last known state.
			log.Printf("level=warn component=service msg=\"live status check failed; returning stored state\" contribution_id=%s err=%v", contributionID, err)
		} else if status.Paid {
			if _, err := s.Settle(ctx, contribution, PaymentProof{
				Preimage:   status.Preimage,
				SettledVia: domain.SettledViaStatusCheck,
			}); err != nil {
				return nil, err
			}
			contribution, err = s.repo.FindContributionByID(ctx, contributionID)
			if err != nil {
				return nil, err
			}
		}
	}

	return &domain.ContributionStatusResult{
		ContributionID: contribution.ID,
		PaymentStatus:  contribution.PaymentStatus,
		IsPaid:         contribution.IsPaid(),
		PaidAt:         contribution.PaidAt,
	}, nil
}

// CancelContribution cancels a pending contribution: its watcher is stopped
// and the row is marked cancelled. The Lightning invoice expires on its own
// provider-side.
func (s *Service) CancelContribution(ctx context.Context, contributionID uuid.UUID) (*domain.Contribution, error) {
	contribution, err := s.repo.FindContributionByID(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	if !contribution.IsPending() {
		return nil, ErrNotPending
	}

	s.registry.Cancel(contributionID)

	applied, err := s.repo.MarkContributionStatus(ctx, contributionID, domain.PaymentStatusCancelled)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Settled between the read above and the conditional write.
		return nil, ErrNotPending
	}

	log.Printf("level=info component=service msg=\"contribution cancelled\" contribution_id=%s", contributionID)
	if err := s.eventProducer.Publish(ctx, rabbitmq.PaymentEventsExchange, rabbitmq.RoutingKeyContributionCancelled, map[string]interface{}{
		"contribution_id": contributionID,
		"campaign_id":     contribution.CampaignID,
		"timestamp":       time.Now().UTC(),
	}); err != nil {
		log.Printf("level=warn component=service msg=\"failed to publish contribution cancelled event\" contribution_id=%s err=%v", contributionID, err)
	}

	return s.repo.FindContributionByID(ctx, contributionID)
}

// ResumePendingWatchers restarts reconciliation watchers for contributions
// found pending at boot. In-memory watchers do not survive restarts; the
// database is the durable record of what still needs watching.
func (s *Service) ResumePendingWatchers(ctx context.Context) error {
	pending, err := s.repo.ListPendingContributions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending contributions: %w", err)
	}

	resumed := 0
	for i := range pending {
		contribution := pending[i]
		if s.StartWatcher(&contribution) {
			resumed++
		}
	}

	log.Printf("level=info component=service msg=\"pending watchers resumed\" pending=%d resumed=%d", len(pending), resumed)
	return nil
}

// Shutdown cancels all watchers and waits for them to exit, bounded by the
// given timeout.
func (s *Service) Shutdown(timeout time.Duration) {
	s.registry.CancelAll()

	done := make(chan struct{})
	go func() {
		s.watcherWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("level=info component=service msg=\"all watchers stopped\"")
	case <-time.After(timeout):
		log.Printf("level=warn component=service msg=\"timed out waiting for watchers to stop\" remaining=%d", s.registry.ActiveCount())
	}
}

// ---------------------------------------------------------------------------
// Direct payment operations
// ---------------------------------------------------------------------------

// CreateStandaloneInvoice creates an invoice not tied to any campaign.
func (s *Service) CreateStandaloneInvoice(ctx context.Context, amountSats int64, memo string) (*lnbitsclient.Invoice, error) {
	if amountSats < 1 || amountSats > MaxStandaloneInvoiceSat {
		return nil, fmt.Errorf("%w: amount must be 1-%d sats", ErrValidation, MaxStandaloneInvoiceSat)
	}
	return s.provider.CreateInvoice(ctx, amountSats, memo, s.invoiceExpirySeconds)
}

// GetInvoiceStatus fetches the provider status of an invoice by payment hash.
func (s *Service) GetInvoiceStatus(ctx context.Context, paymentHash string) (*lnbitsclient.PaymentStatus, error) {
	return s.provider.CheckStatus(ctx, paymentHash)
}

// DecodeInvoice decodes a BOLT11 payment request.
func (s *Service) DecodeInvoice(ctx context.Context, bolt11 string) (*lnbitsclient.DecodedInvoice, error) {
	if strings.TrimSpace(bolt11) == "" {
		return nil, fmt.Errorf("%w: payment request is required", ErrValidation)
	}
	return s.provider.DecodeInvoice(ctx, bolt11)
}

// GetWalletDetails fetches the service wallet's name and balance.
func (s *Service) GetWalletDetails(ctx context.Context) (*lnbitsclient.WalletDetails, error) {
	return s.provider.GetWalletDetails(ctx)
}

// GetRecentPayments fetches the service wallet's recent payment history.
func (s *Service) GetRecentPayments(ctx context.Context, limit int) ([]lnbitsclient.Payment, error) {
	return s.provider.GetPayments(ctx, limit)
}

// ProviderHealthy reports whether the Lightning provider is reachable.
func (s *Service) ProviderHealthy(ctx context.Context) error {
	_, err := s.provider.GetWalletDetails(ctx)
	return err
}
