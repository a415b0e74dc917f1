/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * for campaigns and contributions.
 *
 * SettleContribution carries the reconciliation guarantees: the
 * `WHERE payment_status = 'pending'` predicate admits exactly one writer when
 * the watcher and the webhook race, the `current_amount = current_amount + $1`
 * increment never loses an update between concurrent settlements, and both
 * writes share one transaction so a paid contribution is never left
 * uncredited.
 *
 * @dependencies
 * - context, errors, fmt, strings: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrContributionNotFound = errors.New("contribution not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const campaignColumns = `id, title, description, target_amount, current_amount, currency, creator_id, creator_email, status, end_date, created_at, updated_at`

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.Description,
		&c.TargetAmount,
		&c.CurrentAmount,
		&c.Currency,
		&c.CreatorID,
		&c.CreatorEmail,
		&c.Status,
		&c.EndDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCampaign inserts a new campaign record and returns the persisted row.
func (r *PostgresRepository) CreateCampaign(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	query := `
		INSERT INTO campaigns (
			id, title, description, target_amount, current_amount, currency,
			creator_id, creator_email, status, end_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + campaignColumns
	row := r.db.QueryRow(ctx, query,
		campaign.ID,
		campaign.Title,
		campaign.Description,
		campaign.TargetAmount,
		campaign.CurrentAmount,
		campaign.Currency,
		campaign.CreatorID,
		campaign.CreatorEmail,
		campaign.Status,
		campaign.EndDate,
	)
	return scanCampaign(row)
}

// FindCampaignByID retrieves a campaign from the database by its ID.
func (r *PostgresRepository) FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	campaign, err := scanCampaign(r.db.QueryRow(ctx, query, campaignID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

// ListCampaigns retrieves campaigns with optional status/creator filters, newest first.
func (r *PostgresRepository) ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status := strings.TrimSpace(strings.ToLower(opts.Status)); status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, status)
		argPos++
	}
	if creator := strings.TrimSpace(opts.CreatorID); creator != "" {
		query += fmt.Sprintf(" AND creator_id = $%d", argPos)
		args = append(args, creator)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := make([]domain.Campaign, 0, limit)
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *campaign)
	}

	return campaigns, nil
}

// UpdateCampaign applies a partial update and returns the updated row.
// Nil params leave the corresponding column unchanged.
func (r *PostgresRepository) UpdateCampaign(ctx context.Context, campaignID uuid.UUID, params UpdateCampaignParams) (*domain.Campaign, error) {
	query := `
		UPDATE campaigns
		SET
			title = COALESCE($1, title),
			description = COALESCE($2, description),
			target_amount = COALESCE($3, target_amount),
			status = COALESCE($4, status),
			end_date = COALESCE($5, end_date),
			updated_at = NOW()
		WHERE id = $6
		RETURNING ` + campaignColumns
	campaign, err := scanCampaign(r.db.QueryRow(ctx, query,
		params.Title,
		params.Description,
		params.TargetAmount,
		params.Status,
		params.EndDate,
		campaignID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

// CampaignContributionStats returns total and paid contribution counts for a campaign.
func (r *PostgresRepository) CampaignContributionStats(ctx context.Context, campaignID uuid.UUID) (int, int, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE payment_status = 'paid')
		FROM contributions
		WHERE campaign_id = $1
	`
	var total, paid int
	if err := r.db.QueryRow(ctx, query, campaignID).Scan(&total, &paid); err != nil {
		return 0, 0, err
	}
	return total, paid, nil
}

const contributionColumns = `id, campaign_id, contributor_name, contributor_email, amount, currency, payment_status, payment_hash, payment_request, checking_id, transaction_id, message, is_anonymous, platform_fee, creator_amount, paid_at, created_at, updated_at`

func scanContribution(row pgx.Row) (*domain.Contribution, error) {
	var c domain.Contribution
	err := row.Scan(
		&c.ID,
		&c.CampaignID,
		&c.ContributorName,
		&c.ContributorEmail,
		&c.Amount,
		&c.Currency,
		&c.PaymentStatus,
		&c.PaymentHash,
		&c.PaymentRequest,
		&c.CheckingID,
		&c.TransactionID,
		&c.Message,
		&c.IsAnonymous,
		&c.PlatformFee,
		&c.CreatorAmount,
		&c.PaidAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateContribution inserts a new contribution record and returns the persisted row.
func (r *PostgresRepository) CreateContribution(ctx context.Context, contribution *domain.Contribution) (*domain.Contribution, error) {
	query := `
		INSERT INTO contributions (
			id, campaign_id, contributor_name, contributor_email, amount, currency,
			payment_status, payment_hash, payment_request, checking_id, message, is_anonymous
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + contributionColumns
	row := r.db.QueryRow(ctx, query,
		contribution.ID,
		contribution.CampaignID,
		contribution.ContributorName,
		contribution.ContributorEmail,
		contribution.Amount,
		contribution.Currency,
		contribution.PaymentStatus,
		contribution.PaymentHash,
		contribution.PaymentRequest,
		contribution.CheckingID,
		contribution.Message,
		contribution.IsAnonymous,
	)
	return scanContribution(row)
}

// FindContributionByID retrieves a contribution from the database by its ID.
func (r *PostgresRepository) FindContributionByID(ctx context.Context, contributionID uuid.UUID) (*domain.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions WHERE id = $1`
	contribution, err := scanContribution(r.db.QueryRow(ctx, query, contributionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContributionNotFound
		}
		return nil, err
	}
	return contribution, nil
}

// FindContributionByPaymentHash resolves a contribution from the provider's
// payment hash. Used by the webhook reconciler.
func (r *PostgresRepository) FindContributionByPaymentHash(ctx context.Context, paymentHash string) (*domain.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions WHERE payment_hash = $1`
	contribution, err := scanContribution(r.db.QueryRow(ctx, query, paymentHash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContributionNotFound
		}
		return nil, err
	}
	return contribution, nil
}

// ListContributions retrieves contributions with optional filters, newest first.
func (r *PostgresRepository) ListContributions(ctx context.Context, opts domain.ContributionListOptions) ([]domain.Contribution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + contributionColumns + ` FROM contributions WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if opts.CampaignID != nil {
		query += fmt.Sprintf(" AND campaign_id = $%d", argPos)
		args = append(args, *opts.CampaignID)
		argPos++
	}
	if status := strings.TrimSpace(strings.ToLower(opts.PaymentStatus)); status != "" {
		query += fmt.Sprintf(" AND payment_status = $%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contributions := make([]domain.Contribution, 0, limit)
	for rows.Next() {
		contribution, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, *contribution)
	}

	return contributions, nil
}

// ListPendingContributions returns all contributions still awaiting payment,
// oldest first. Used at startup to resume reconciliation watchers.
func (r *PostgresRepository) ListPendingContributions(ctx context.Context) ([]domain.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions WHERE payment_status = 'pending' ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contributions []domain.Contribution
	for rows.Next() {
		contribution, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, *contribution)
	}

	return contributions, nil
}

// SettleContribution transitions a pending contribution to paid, records the
// settlement fields and credits the campaign, all in one transaction. The
// `payment_status = 'pending'` predicate makes the write conditional: when
// the watcher and the webhook race, only the first writer affects a row and
// the loser observes applied=false without touching the campaign.
func (r *PostgresRepository) SettleContribution(ctx context.Context, contributionID uuid.UUID, campaignID uuid.UUID, params SettlementParams) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE contributions
		SET
			payment_status = 'paid',
			transaction_id = COALESCE($2, transaction_id),
			platform_fee = $3,
			creator_amount = $4,
			paid_at = $5,
			updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`
	result, err := tx.Exec(ctx, query,
		contributionID,
		params.TransactionID,
		params.PlatformFee,
		params.CreatorAmount,
		params.PaidAt,
	)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		// Distinguish "already settled" from "no such contribution".
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM contributions WHERE id = $1)", contributionID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrContributionNotFound
		}
		return false, nil
	}

	// A single relative UPDATE avoids the read-modify-write race between
	// concurrent settlements on one campaign.
	credit, err := tx.Exec(ctx,
		`UPDATE campaigns SET current_amount = current_amount + $1, updated_at = NOW() WHERE id = $2`,
		params.CreatorAmount, campaignID,
	)
	if err != nil {
		return false, err
	}
	if credit.RowsAffected() == 0 {
		return false, ErrCampaignNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// MarkContributionStatus transitions a pending contribution to a non-paid
// terminal status (failed, expired or cancelled). Rows already in a terminal
// state are left untouched and applied=false is returned.
func (r *PostgresRepository) MarkContributionStatus(ctx context.Context, contributionID uuid.UUID, status string) (bool, error) {
	query := `
		UPDATE contributions
		SET payment_status = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, contributionID, status)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM contributions WHERE id = $1)", contributionID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrContributionNotFound
		}
		return false, nil
	}
	return true, nil
}
