/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the payments-service. By defining an
 * interface, we decouple the reconciliation engine and the API handlers from the
 * specific database implementation (PostgreSQL), making the code easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Campaign methods
	CreateCampaign(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error)
	FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error)
	UpdateCampaign(ctx context.Context, campaignID uuid.UUID, params UpdateCampaignParams) (*domain.Campaign, error)
	CampaignContributionStats(ctx context.Context, campaignID uuid.UUID) (total int, paid int, err error)

	// Contribution methods
	CreateContribution(ctx context.Context, contribution *domain.Contribution) (*domain.Contribution, error)
	FindContributionByID(ctx context.Context, contributionID uuid.UUID) (*domain.Contribution, error)
	FindContributionByPaymentHash(ctx context.Context, paymentHash string) (*domain.Contribution, error)
	ListContributions(ctx context.Context, opts domain.ContributionListOptions) ([]domain.Contribution, error)
	ListPendingContributions(ctx context.Context) ([]domain.Contribution, error)
	// SettleContribution transitions a pending contribution to paid, records
	// the settlement fields and credits the campaign with the creator's net
	// amount in one transaction, so a crash can never leave a paid
	// contribution uncredited. It returns applied=false without error when
	// the row was no longer pending, which callers treat as an idempotent
	// no-op. The conditional write on payment_status is the serialization
	// point between the watcher and webhook reconciliation paths.
	SettleContribution(ctx context.Context, contributionID uuid.UUID, campaignID uuid.UUID, params SettlementParams) (applied bool, err error)
	// MarkContributionStatus transitions a pending contribution to the given
	// non-paid status (failed, expired, cancelled). Terminal rows are left
	// untouched and applied=false is returned.
	MarkContributionStatus(ctx context.Context, contributionID uuid.UUID, status string) (applied bool, err error)
}

// UpdateCampaignParams carries the optional campaign fields a partial update
// may change. Nil pointers leave the column unchanged.
type UpdateCampaignParams struct {
	Title        *string
	Description  *string
	TargetAmount *int64
	Status       *string
	EndDate      *time.Time
}

// SettlementParams carries the fields written when a contribution settles.
type SettlementParams struct {
	TransactionID *string // payment preimage, when the provider supplied one
	PlatformFee   int64
	CreatorAmount int64
	PaidAt        time.Time
}
