/*
Package platform mirrors commission rows to the external affiliate-marketing
platform.

The ledger is the source of truth. The platform copy is best effort: the
client is wrapped by referral.AsyncMirror, which never lets a platform
failure reach the ledger write.

WIRE FORMAT:
  POST <base>/commissions
  X-API-Key: <key>
  {"external_id": "...", "affiliate_id": "...", "transaction_id": "...",
   "level": 1, "kind": "base", "amount": 50000, "status": "PENDING",
   "created_at": "..."}

  Any 2xx is success. 409 means the platform already has the row and is
  also success.
*/
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/warp/commission-engine/referral"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient replaces the transport. Used by tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

type commissionPayload struct {
	ExternalID    string    `json:"external_id"`
	AffiliateID   string    `json:"affiliate_id"`
	BuyerID       string    `json:"buyer_id"`
	TransactionID string    `json:"transaction_id"`
	Level         int       `json:"level"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// StatusError is a non-success response from the platform.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) MirrorCommission(ctx context.Context, com referral.Commission) error {
	body, err := json.Marshal(commissionPayload{
		ExternalID:    string(com.ID),
		AffiliateID:   string(com.AffiliateID),
		BuyerID:       string(com.BuyerID),
		TransactionID: com.TransactionID,
		Level:         com.Level,
		Kind:          string(com.Kind),
		Amount:        int64(com.Amount),
		Status:        string(com.Status),
		CreatedAt:     com.CreatedAt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/commissions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

var _ referral.PlatformMirror = (*Client)(nil)
