/**
 * @description
 * This file defines the contribution domain model and its DTOs. A contribution
 * is a single pledge against a campaign, backed by one Lightning invoice.
 *
 * Payment lifecycle:
 * 1. Contribution is created in `pending` state together with an LNbits invoice.
 * 2. The frontend displays the BOLT11 payment request as a QR code.
 * 3. A reconciliation watcher polls LNbits while a webhook may arrive in parallel.
 * 4. Whichever path confirms payment first settles the contribution exactly once
 *    and credits the campaign with the net amount after the platform fee.
 *
 * @notes
 * - `paid`, `failed`, `expired` and `cancelled` are terminal: no transition
 *   ever leaves them, and nothing re-enters `pending`.
 * - `PaymentHash` is the provider-assigned idempotency key (unique per invoice).
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Contribution payment statuses.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
	PaymentStatusCancelled = "cancelled"
)

// Settlement paths. Recorded on settled events so consumers can see which
// reconciliation path confirmed the payment.
const (
	SettledViaWatcher     = "watcher"
	SettledViaWebhook     = "webhook"
	SettledViaStatusCheck = "status_check"
)

// TerminalPaymentStatus reports whether s is a terminal contribution status.
func TerminalPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled:
		return true
	}
	return false
}

// Contribution represents a pledge record in the `contributions` table.
type Contribution struct {
	ID               uuid.UUID  `json:"id"`
	CampaignID       uuid.UUID  `json:"campaign_id"`
	ContributorName  *string    `json:"contributor_name,omitempty"`
	ContributorEmail *string    `json:"contributor_email,omitempty"`
	Amount           int64      `json:"amount"` // in sats
	Currency         string     `json:"currency"`
	PaymentStatus    string     `json:"payment_status"`
	PaymentHash      string     `json:"payment_hash"`
	PaymentRequest   string     `json:"payment_request"` // BOLT11 invoice
	CheckingID       string     `json:"checking_id"`
	TransactionID    *string    `json:"transaction_id,omitempty"` // payment preimage (proof of payment)
	Message          *string    `json:"message,omitempty"`
	IsAnonymous      bool       `json:"is_anonymous"`
	PlatformFee      *int64     `json:"platform_fee,omitempty"`   // in sats, computed once at settlement
	CreatorAmount    *int64     `json:"creator_amount,omitempty"` // in sats, amount minus platform fee
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsPaid reports whether the contribution has been settled.
func (c *Contribution) IsPaid() bool {
	return c.PaymentStatus == PaymentStatusPaid
}

// IsPending reports whether the contribution is still awaiting payment.
func (c *Contribution) IsPending() bool {
	return c.PaymentStatus == PaymentStatusPending
}

// DisplayName returns the contributor name to show publicly.
func (c *Contribution) DisplayName() string {
	if c.IsAnonymous || c.ContributorName == nil || *c.ContributorName == "" {
		return "Anonymous"
	}
	return *c.ContributorName
}

// Masked returns a copy safe for public responses: anonymous contributions
// hide the contributor's name and email.
func (c *Contribution) Masked() *Contribution {
	masked := *c
	if c.IsAnonymous {
		anonymous := "Anonymous"
		masked.ContributorName = &anonymous
		masked.ContributorEmail = nil
	}
	return &masked
}

// CreateContributionRequest is the DTO for incoming pledge requests.
// Amount is interpreted in the given currency: SATS directly, BTC converted
// to sats before invoice creation.
type CreateContributionRequest struct {
	CampaignID       uuid.UUID `json:"campaign_id"`
	ContributorName  *string   `json:"contributor_name,omitempty"`
	ContributorEmail *string   `json:"contributor_email,omitempty"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Message          *string   `json:"message,omitempty"`
	IsAnonymous      bool      `json:"is_anonymous"`
}

// CreateContributionResult carries the persisted contribution together with
// the invoice payload the frontend renders as a QR code.
type CreateContributionResult struct {
	Contribution   *Contribution `json:"contribution"`
	PaymentRequest string        `json:"payment_request"`
	PaymentHash    string        `json:"payment_hash"`
}

// ContributionStatusResult is returned by the status-polling endpoint.
type ContributionStatusResult struct {
	ContributionID uuid.UUID  `json:"contribution_id"`
	PaymentStatus  string     `json:"payment_status"`
	IsPaid         bool       `json:"is_paid"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

// ContributionListOptions controls filtering and pagination for listings.
type ContributionListOptions struct {
	CampaignID    *uuid.UUID
	PaymentStatus string
	Limit         int
	Offset        int
}

// WebhookNotification is the payload LNbits posts when an invoice is paid.
type WebhookNotification struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	Memo           string `json:"memo,omitempty"`
	Paid           bool   `json:"paid"`
	Preimage       string `json:"preimage,omitempty"`
}

// SettledEvent is the message payload published when a contribution settles.
type SettledEvent struct {
	ContributionID uuid.UUID `json:"contribution_id"`
	CampaignID     uuid.UUID `json:"campaign_id"`
	Amount         int64     `json:"amount"`
	PlatformFee    int64     `json:"platform_fee"`
	CreatorAmount  int64     `json:"creator_amount"`
	PaymentHash    string    `json:"payment_hash"`
	SettledVia     string    `json:"settled_via"` // "watcher", "webhook" or "status_check"
	Timestamp      time.Time `json:"timestamp"`
}
