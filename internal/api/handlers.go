/**
 * @description
 * This file contains the HTTP handlers for the payments-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, errors, fmt, io, log, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/lnbitsclient: For provider error classification and signature checks.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/crowdpay/payments-service/internal/app"
	"github.com/crowdpay/payments-service/internal/domain"
	"github.com/crowdpay/payments-service/internal/store"
	"github.com/crowdpay/payments-service/pkg/lnbitsclient"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service       *app.Service
	webhookSecret string
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service, webhookSecret string) *PaymentHandlers {
	return &PaymentHandlers{service: service, webhookSecret: webhookSecret}
}

// ---------------------------------------------------------------------------
// Campaigns
// ---------------------------------------------------------------------------

// CreateCampaignHandler handles authenticated campaign creation.
func (h *PaymentHandlers) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_campaign outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	req.CreatorID = userID

	campaign, err := h.service.CreateCampaign(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create_campaign", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, campaign)
}

// ListCampaignsHandler handles public campaign listings with optional filters.
func (h *PaymentHandlers) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.CampaignListOptions{
		Status:    r.URL.Query().Get("status"),
		CreatorID: r.URL.Query().Get("creator_id"),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}

	campaigns, err := h.service.ListCampaigns(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, "list_campaigns", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"count":     len(campaigns),
	})
}

// GetCampaignHandler returns one campaign with its contribution statistics.
func (h *PaymentHandlers) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.pathUUID(w, r, "campaignID")
	if !ok {
		return
	}

	campaign, stats, err := h.service.GetCampaignStatistics(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, "get_campaign", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign":   campaign,
		"statistics": stats,
	})
}

// UpdateCampaignHandler handles authenticated partial campaign updates.
func (h *PaymentHandlers) UpdateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}
	campaignID, ok := h.pathUUID(w, r, "campaignID")
	if !ok {
		return
	}

	var req domain.UpdateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	campaign, err := h.service.UpdateCampaign(r.Context(), campaignID, userID, req)
	if err != nil {
		h.writeServiceError(w, "update_campaign", err)
		return
	}
	h.writeJSON(w, http.StatusOK, campaign)
}

// DeleteCampaignHandler soft-deletes a campaign (status becomes cancelled).
func (h *PaymentHandlers) DeleteCampaignHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}
	campaignID, ok := h.pathUUID(w, r, "campaignID")
	if !ok {
		return
	}

	if err := h.service.DeleteCampaign(r.Context(), campaignID, userID); err != nil {
		h.writeServiceError(w, "delete_campaign", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Campaign cancelled"})
}

// ListCampaignContributionsHandler lists a campaign's contributions, masked
// for anonymous contributors.
func (h *PaymentHandlers) ListCampaignContributionsHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.pathUUID(w, r, "campaignID")
	if !ok {
		return
	}

	opts := domain.ContributionListOptions{
		CampaignID:    &campaignID,
		PaymentStatus: r.URL.Query().Get("payment_status"),
		Limit:         queryInt(r, "limit"),
		Offset:        queryInt(r, "offset"),
	}
	contributions, err := h.service.ListContributions(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, "list_campaign_contributions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contributions": maskContributions(contributions),
		"count":         len(contributions),
	})
}

// ---------------------------------------------------------------------------
// Contributions
// ---------------------------------------------------------------------------

// CreateContributionHandler handles public pledge creation. The response
// carries the BOLT11 payment request the frontend renders as a QR code.
func (h *PaymentHandlers) CreateContributionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_contribution outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.CampaignID == uuid.Nil {
		http.Error(w, "campaign_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.CreateContribution(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create_contribution", err)
		return
	}

	result.Contribution = result.Contribution.Masked()
	h.writeJSON(w, http.StatusCreated, result)
}

// GetContributionHandler returns one contribution, masked for anonymity.
func (h *PaymentHandlers) GetContributionHandler(w http.ResponseWriter, r *http.Request) {
	contributionID, ok := h.pathUUID(w, r, "contributionID")
	if !ok {
		return
	}

	contribution, err := h.service.GetContribution(r.Context(), contributionID)
	if err != nil {
		h.writeServiceError(w, "get_contribution", err)
		return
	}
	h.writeJSON(w, http.StatusOK, contribution.Masked())
}

// ListContributionsHandler lists contributions with optional filters.
func (h *PaymentHandlers) ListContributionsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.ContributionListOptions{
		PaymentStatus: r.URL.Query().Get("payment_status"),
		Limit:         queryInt(r, "limit"),
		Offset:        queryInt(r, "offset"),
	}
	if raw := r.URL.Query().Get("campaign_id"); raw != "" {
		campaignID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid campaign_id", http.StatusBadRequest)
			return
		}
		opts.CampaignID = &campaignID
	}

	contributions, err := h.service.ListContributions(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, "list_contributions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contributions": maskContributions(contributions),
		"count":         len(contributions),
	})
}

// ContributionStatusHandler reports a contribution's payment status with an
// inline provider re-check while it is pending.
func (h *PaymentHandlers) ContributionStatusHandler(w http.ResponseWriter, r *http.Request) {
	contributionID, ok := h.pathUUID(w, r, "contributionID")
	if !ok {
		return
	}

	result, err := h.service.CheckContributionStatus(r.Context(), contributionID)
	if err != nil {
		h.writeServiceError(w, "contribution_status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// CancelContributionHandler cancels a pending contribution.
func (h *PaymentHandlers) CancelContributionHandler(w http.ResponseWriter, r *http.Request) {
	contributionID, ok := h.pathUUID(w, r, "contributionID")
	if !ok {
		return
	}

	contribution, err := h.service.CancelContribution(r.Context(), contributionID)
	if err != nil {
		h.writeServiceError(w, "cancel_contribution", err)
		return
	}
	h.writeJSON(w, http.StatusOK, contribution.Masked())
}

// ---------------------------------------------------------------------------
// Direct payments
// ---------------------------------------------------------------------------

type createInvoiceRequest struct {
	Amount int64  `json:"amount"` // in sats
	Memo   string `json:"memo"`
}

// CreateInvoiceHandler creates a standalone invoice not tied to a campaign.
func (h *PaymentHandlers) CreateInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	invoice, err := h.service.CreateStandaloneInvoice(r.Context(), req.Amount, req.Memo)
	if err != nil {
		h.writeServiceError(w, "create_invoice", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, invoice)
}

// InvoiceStatusHandler fetches the provider status of an invoice by hash.
func (h *PaymentHandlers) InvoiceStatusHandler(w http.ResponseWriter, r *http.Request) {
	paymentHash := chi.URLParam(r, "paymentHash")
	if paymentHash == "" {
		http.Error(w, "payment hash is required", http.StatusBadRequest)
		return
	}

	status, err := h.service.GetInvoiceStatus(r.Context(), paymentHash)
	if err != nil {
		h.writeServiceError(w, "invoice_status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

type decodeInvoiceRequest struct {
	PaymentRequest string `json:"payment_request"`
}

// DecodeInvoiceHandler decodes a BOLT11 payment request.
func (h *PaymentHandlers) DecodeInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	var req decodeInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	decoded, err := h.service.DecodeInvoice(r.Context(), req.PaymentRequest)
	if err != nil {
		h.writeServiceError(w, "decode_invoice", err)
		return
	}
	h.writeJSON(w, http.StatusOK, decoded)
}

// WalletBalanceHandler returns the service wallet balance in sats.
func (h *PaymentHandlers) WalletBalanceHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.GetWalletDetails(r.Context())
	if err != nil {
		h.writeServiceError(w, "wallet_balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":           wallet.ID,
		"name":         wallet.Name,
		"balance_sats": wallet.BalanceSats(),
	})
}

// WalletPaymentsHandler returns recent wallet payment history.
func (h *PaymentHandlers) WalletPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	payments, err := h.service.GetRecentPayments(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "wallet_payments", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"count":    len(payments),
	})
}

// PaymentsHealthHandler verifies the Lightning provider is reachable.
func (h *PaymentHandlers) PaymentsHealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ProviderHealthy(r.Context()); err != nil {
		log.Printf("level=warn component=api endpoint=payments_health outcome=unhealthy err=%v", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

// WebhookHandler accepts payment notifications pushed by the Lightning
// provider. When a webhook secret is configured, the HMAC signature over the
// raw body is mandatory; otherwise unsigned deliveries are tolerated with a
// warning. Every well-formed notification is acknowledged so the provider
// does not retry endlessly against a lagging poller.
func (h *PaymentHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if h.webhookSecret != "" {
		if !lnbitsclient.VerifyWebhookSignature(body, signature, h.webhookSecret) {
			log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=invalid_signature")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	} else if signature == "" {
		log.Printf("level=warn component=api endpoint=webhook msg=\"unsigned webhook accepted; no secret configured\"")
	}

	var notification domain.WebhookNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, "Invalid webhook payload", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.HandleWebhookNotification(r.Context(), notification)
	if err != nil {
		log.Printf("level=error component=api endpoint=webhook outcome=error payment_hash=%s err=%v", notification.PaymentHash, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func maskContributions(contributions []domain.Contribution) []domain.Contribution {
	masked := make([]domain.Contribution, len(contributions))
	for i := range contributions {
		masked[i] = *contributions[i].Masked()
	}
	return masked
}

func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

// pathUUID extracts and parses a UUID URL parameter, writing a 400 on failure.
func (h *PaymentHandlers) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "Invalid id format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps service and store errors to HTTP statuses.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrCampaignNotFound):
		h.writeError(w, http.StatusNotFound, "Campaign not found")
	case errors.Is(err, store.ErrContributionNotFound):
		h.writeError(w, http.StatusNotFound, "Contribution not found")
	case errors.Is(err, app.ErrValidation), errors.Is(err, app.ErrAmountTooSmall):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrCampaignNotActive), errors.Is(err, app.ErrNotPending):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrNotCampaignOwner):
		h.writeError(w, http.StatusForbidden, "Not authorized to modify this campaign")
	default:
		var apiErr *lnbitsclient.APIError
		if errors.As(err, &apiErr) {
			log.Printf("level=warn component=api endpoint=%s outcome=provider_error status=%d err=%v", endpoint, apiErr.StatusCode, err)
			h.writeError(w, http.StatusBadGateway, "Payment provider error")
			return
		}
		log.Printf("level=error component=api endpoint=%s outcome=error err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
