/**
 * @description
 * This package provides a client for the Daraja mobile-money gateway. It
 * encapsulates OAuth credential caching, payload construction for collection
 * (STK push) and disbursement (B2C) initiation, C2B callback URL registration,
 * and transaction status queries.
 *
 * @notes
 * - Initiation methods never propagate transport errors to callers: every
 *   failure is folded into a structured result with a user-facing message, so
 *   the orchestrator can treat "gateway said no" and "gateway unreachable"
 *   uniformly (no ledger row, no balance change).
 * - Amounts cross this boundary in cents. The provider only accepts whole
 *   currency units, so amounts with a fractional unit are rejected up front
 *   rather than silently truncated.
 */
package darajaclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// Provider-imposed amount bounds, in cents.
	CollectionMinAmountCents   = 100       // 1 unit
	CollectionMaxAmountCents   = 7_000_000 // 70,000 units
	DisbursementMinAmountCents = 1_000     // 10 units
	DisbursementMaxAmountCents = 7_000_000

	// Access tokens are renewed this long before their reported expiry so an
	// in-flight request never rides an expired credential.
	tokenRenewalMargin = 5 * time.Minute

	authTimeout    = 30 * time.Second
	paymentTimeout = 60 * time.Second

	timestampLayout = "20060102150405"
)

// Config carries the provider credentials and endpoints for a Client.
type Config struct {
	BaseURL           string
	ConsumerKey       string
	ConsumerSecret    string
	ShortCode         string
	Passkey           string
	InitiatorName     string
	InitiatorPassword string
	// CallbackBaseURL is the externally reachable base under which this
	// service mounts its /callback/* endpoints.
	CallbackBaseURL string
}

// Client is a client for the Daraja gateway API.
type Client struct {
	cfg Config

	authHTTP    *http.Client
	paymentHTTP *http.Client

	// now is injectable so token-cache expiry can be tested without real delays.
	now func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a new Daraja gateway client.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(cfg.CallbackBaseURL), "/")
	return &Client{
		cfg:         cfg,
		authHTTP:    &http.Client{Timeout: authTimeout},
		paymentHTTP: &http.Client{Timeout: paymentTimeout},
		now:         time.Now,
	}
}

// CollectionResult is the structured outcome of a collection initiation.
type CollectionResult struct {
	Success           bool
	CheckoutRequestID string
	MerchantRequestID string
	ResponseCode      string
	Message           string
}

// DisbursementResult is the structured outcome of a disbursement initiation.
type DisbursementResult struct {
	Success                  bool
	ConversationID           string
	OriginatorConversationID string
	ResponseCode             string
	Message                  string
}

// StatusResult is the structured outcome of a transaction status query.
type StatusResult struct {
	Success           bool
	ResultCode        string
	ResultDescription string
	Message           string
}

// RegistrationResult is the structured outcome of a C2B URL registration.
type RegistrationResult struct {
	Success             bool
	ResponseDescription string
	Message             string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Authenticate returns a valid bearer credential, hitting the network only when
// the cached token is within the renewal margin of its expiry. Concurrent
// callers serialize on the cache mutex, so a cache miss triggers at most one
// in-flight authentication.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.authHTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=daraja_client op=authenticate status=%d msg=\"non-2xx auth response\"", resp.StatusCode)
		return "", fmt.Errorf("gateway authentication failed (status %d)", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("gateway auth response missing access token")
	}

	lifetime := time.Hour
	if secs, parseErr := strconv.Atoi(strings.TrimSpace(tok.ExpiresIn)); parseErr == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}
	if lifetime > tokenRenewalMargin {
		lifetime -= tokenRenewalMargin
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = c.now().Add(lifetime)
	return c.accessToken, nil
}

// generatePassword builds the base64(shortcode + passkey + timestamp) API
// password required by the collection and status endpoints.
func (c *Client) generatePassword(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

func validateGatewayAmount(amountCents, minCents, maxCents int64, flow string) string {
	if amountCents%100 != 0 {
		return fmt.Sprintf("%s amount must be a whole number of currency units", flow)
	}
	if amountCents < minCents {
		return fmt.Sprintf("minimum %s amount is %d", flow, minCents/100)
	}
	if amountCents > maxCents {
		return fmt.Sprintf("maximum %s amount is %d", flow, maxCents/100)
	}
	return ""
}

// InitiateCollection pushes a pay-prompt (STK push) to the payer's device.
// Amount bounds and phone format are validated before any network call.
func (c *Client) InitiateCollection(ctx context.Context, phone string, amountCents int64, reference, description string) CollectionResult {
	if msg := validateGatewayAmount(amountCents, CollectionMinAmountCents, CollectionMaxAmountCents, "deposit"); msg != "" {
		return CollectionResult{Success: false, Message: msg}
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		log.Printf("level=error component=daraja_client op=initiate_collection msg=\"authentication failed\" err=%v", err)
		return CollectionResult{Success: false, Message: "Failed to initiate payment. Please try again."}
	}

	msisdn := NormalizePhone(phone)
	timestamp := c.now().Format(timestampLayout)

	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.generatePassword(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amountCents / 100,
		"PartyA":            msisdn,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       msisdn,
		"CallBackURL":       c.cfg.CallbackBaseURL + "/callback/collection",
		"AccountReference":  reference,
		"TransactionDesc":   description,
	}

	var out struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		MerchantRequestID string `json:"MerchantRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		CustomerMessage   string `json:"CustomerMessage"`
	}
	if err := c.doPost(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out); err != nil {
		log.Printf("level=warn component=daraja_client op=initiate_collection msg=\"request failed\" err=%v", err)
		return CollectionResult{Success: false, Message: "Failed to initiate payment. Please try again."}
	}

	return CollectionResult{
		Success:           true,
		CheckoutRequestID: out.CheckoutRequestID,
		MerchantRequestID: out.MerchantRequestID,
		ResponseCode:      out.ResponseCode,
		Message:           out.CustomerMessage,
	}
}

// InitiateDisbursement sends a B2C payout to the recipient's phone. Note the
// distinct minimum amount from collections.
func (c *Client) InitiateDisbursement(ctx context.Context, phone string, amountCents int64, remarks, occasion string) DisbursementResult {
	if msg := validateGatewayAmount(amountCents, DisbursementMinAmountCents, DisbursementMaxAmountCents, "withdrawal"); msg != "" {
		return DisbursementResult{Success: false, Message: msg}
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		log.Printf("level=error component=daraja_client op=initiate_disbursement msg=\"authentication failed\" err=%v", err)
		return DisbursementResult{Success: false, Message: "Failed to process withdrawal. Please try again."}
	}

	msisdn := NormalizePhone(phone)
	payload := map[string]interface{}{
		"InitiatorName":      c.cfg.InitiatorName,
		"SecurityCredential": c.cfg.InitiatorPassword,
		"CommandID":          "BusinessPayment",
		"Amount":             amountCents / 100,
		"PartyA":             c.cfg.ShortCode,
		"PartyB":             msisdn,
		"Remarks":            remarks,
		"Occasion":           occasion,
		"ResultURL":          c.cfg.CallbackBaseURL + "/callback/disbursement",
		"QueueTimeOutURL":    c.cfg.CallbackBaseURL + "/callback/disbursement/timeout",
	}

	var out struct {
		ConversationID           string `json:"ConversationID"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ResponseCode             string `json:"ResponseCode"`
		ResponseDescription      string `json:"ResponseDescription"`
	}
	if err := c.doPost(ctx, "/mpesa/b2c/v1/paymentrequest", token, payload, &out); err != nil {
		log.Printf("level=warn component=daraja_client op=initiate_disbursement msg=\"request failed\" err=%v", err)
		return DisbursementResult{Success: false, Message: "Failed to process withdrawal. Please try again."}
	}

	return DisbursementResult{
		Success:                  true,
		ConversationID:           out.ConversationID,
		OriginatorConversationID: out.OriginatorConversationID,
		ResponseCode:             out.ResponseCode,
		Message:                  out.ResponseDescription,
	}
}

// RegisterCollectionURLs registers the C2B confirmation and validation
// callback URLs with the provider. Typically invoked once at deploy time.
func (c *Client) RegisterCollectionURLs(ctx context.Context) RegistrationResult {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return RegistrationResult{Success: false, Message: "Failed to register callback URLs"}
	}

	payload := map[string]interface{}{
		"ShortCode":       c.cfg.ShortCode,
		"ResponseType":    "Completed",
		"ConfirmationURL": c.cfg.CallbackBaseURL + "/callback/c2b/confirmation",
		"ValidationURL":   c.cfg.CallbackBaseURL + "/callback/c2b/validation",
	}

	var out struct {
		ResponseDescription string `json:"ResponseDescription"`
	}
	if err := c.doPost(ctx, "/mpesa/c2b/v1/registerurl", token, payload, &out); err != nil {
		log.Printf("level=warn component=daraja_client op=register_urls msg=\"request failed\" err=%v", err)
		return RegistrationResult{Success: false, Message: "Failed to register callback URLs"}
	}

	return RegistrationResult{Success: true, ResponseDescription: out.ResponseDescription}
}

// QueryTransactionStatus asks the provider for the current state of a
// previously initiated transaction.
func (c *Client) QueryTransactionStatus(ctx context.Context, transactionID string) StatusResult {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return StatusResult{Success: false, Message: "Failed to check transaction status"}
	}

	payload := map[string]interface{}{
		"Initiator":          c.cfg.InitiatorName,
		"SecurityCredential": c.cfg.InitiatorPassword,
		"CommandID":          "TransactionStatusQuery",
		"TransactionID":      transactionID,
		"PartyA":             c.cfg.ShortCode,
		"IdentifierType":     "4",
		"ResultURL":          c.cfg.CallbackBaseURL + "/callback/status",
		"QueueTimeOutURL":    c.cfg.CallbackBaseURL + "/callback/status/timeout",
	}

	var out struct {
		ResultCode string `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	if err := c.doPost(ctx, "/mpesa/transactionstatus/v1/query", token, payload, &out); err != nil {
		log.Printf("level=warn component=daraja_client op=query_status transaction_id=%s msg=\"request failed\" err=%v", transactionID, err)
		return StatusResult{Success: false, Message: "Failed to check transaction status"}
	}

	return StatusResult{Success: true, ResultCode: out.ResultCode, ResultDescription: out.ResultDesc}
}

// doPost executes an authenticated JSON POST against the gateway and decodes a
// 2xx response body into out.
func (c *Client) doPost(ctx context.Context, path, token string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.paymentHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
