package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gojek/heimdall/v7/httpclient"
)

// httpRail talks to a custodial payout API:
//
//	POST {base}/v1/transfers -> {"status": "SUCCESS|FAILED|PENDING", "tx_ref": "...", "reason": "..."}
//
// Retries are disabled; a retry is always a new Distribute call.
type httpRail struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewHTTPRail(baseURL, apiKey string, timeout time.Duration) Rail {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpRail{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: httpclient.NewClient(
			httpclient.WithHTTPTimeout(timeout),
			httpclient.WithRetryCount(0),
		),
	}
}

func (r *httpRail) Name() string { return "http" }

func (r *httpRail) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if r.baseURL == "" {
		return nil, errors.New("payout base url is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("payout rail responded %d", resp.StatusCode)
	}

	var result TransferResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode payout response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		if result.Reason == "" {
			result.Reason = fmt.Sprintf("declined with status %d", resp.StatusCode)
		}
		return &TransferResult{Outcome: OutcomeFailed, Reason: result.Reason}, nil
	}

	switch result.Outcome {
	case OutcomeSuccess, OutcomeFailed, OutcomePending:
		return &result, nil
	default:
		return nil, fmt.Errorf("unknown payout status %q", result.Outcome)
	}
}
