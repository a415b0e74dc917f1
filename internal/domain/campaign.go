/**
 * @description
 * This file defines the campaign domain model and its DTOs. A campaign is a
 * fundraising event that accumulates satoshis as contributions are settled.
 *
 * @notes
 * - Amounts are stored as `int64` satoshis (smallest Lightning-denominated
 *   unit) to avoid floating-point inaccuracies with financial data.
 * - `CurrentAmount` is monotonically non-decreasing and mutated only by the
 *   settlement path via an atomic store increment.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Campaign statuses. Only active campaigns accept new contributions.
const (
	CampaignStatusActive    = "active"
	CampaignStatusCompleted = "completed"
	CampaignStatusCancelled = "cancelled"
	CampaignStatusExpired   = "expired"
)

// ValidCampaignStatus reports whether s is a recognized campaign status.
func ValidCampaignStatus(s string) bool {
	switch s {
	case CampaignStatusActive, CampaignStatusCompleted, CampaignStatusCancelled, CampaignStatusExpired:
		return true
	}
	return false
}

// Campaign represents a fundraising campaign record.
// This struct maps directly to the `campaigns` table in the database.
type Campaign struct {
	ID            uuid.UUID  `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	TargetAmount  int64      `json:"target_amount"`  // in sats
	CurrentAmount int64      `json:"current_amount"` // in sats, net of platform fees
	Currency      string     `json:"currency"`
	CreatorID     string     `json:"creator_id"`
	CreatorEmail  *string    `json:"creator_email,omitempty"`
	Status        string     `json:"status"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsActive reports whether the campaign accepts new contributions.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// ProgressPercentage returns funding progress capped at 100%.
func (c *Campaign) ProgressPercentage() float64 {
	if c.TargetAmount <= 0 {
		return 0
	}
	pct := float64(c.CurrentAmount) / float64(c.TargetAmount) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// RemainingAmount returns the sats still needed to reach the target, floored at zero.
func (c *Campaign) RemainingAmount() int64 {
	remaining := c.TargetAmount - c.CurrentAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsGoalReached reports whether the campaign has met or exceeded its target.
func (c *Campaign) IsGoalReached() bool {
	return c.CurrentAmount >= c.TargetAmount
}

// CreateCampaignRequest is the DTO for incoming campaign creation requests.
type CreateCampaignRequest struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	TargetAmount int64      `json:"target_amount"` // in sats
	Currency     string     `json:"currency"`
	CreatorID    string     `json:"creator_id"`
	CreatorEmail *string    `json:"creator_email,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
}

// UpdateCampaignRequest carries the subset of campaign fields a creator may change.
// Nil pointers mean "leave unchanged".
type UpdateCampaignRequest struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	TargetAmount *int64     `json:"target_amount,omitempty"`
	Status       *string    `json:"status,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
}

// CampaignListOptions controls filtering and pagination for campaign listings.
type CampaignListOptions struct {
	Status    string
	CreatorID string
	Limit     int
	Offset    int
}

// CampaignStatistics summarizes contribution activity for one campaign.
type CampaignStatistics struct {
	ProgressPercentage float64 `json:"progress_percentage"`
	RemainingAmount    int64   `json:"remaining_amount"`
	TotalContributions int     `json:"total_contributions"`
	PaidContributions  int     `json:"paid_contributions"`
	IsGoalReached      bool    `json:"is_goal_reached"`
}
