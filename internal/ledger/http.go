package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// HTTPGateway talks to a ledger service over JSON/HTTP.
//
//	POST /transfers/tokens                    {from, to, token_id, amount}  -> {tx_id}
//	POST /transfers/currency                  {from, to, currency, amount}  -> {tx_id}
//	GET  /accounts/{account}/balances/{asset}                               -> {balance}
//
// Transfers are submitted exactly once; only balance reads are retried.
type HTTPGateway struct {
	baseURL      string
	client       *http.Client
	balanceTries uint64
}

// NewHTTPGateway creates a gateway for the ledger service at baseURL.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: timeout},
		balanceTries: 3,
	}
}

type tokenTransferRequest struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	TokenID string          `json:"token_id"`
	Amount  decimal.Decimal `json:"amount"`
}

type currencyTransferRequest struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type transferResponse struct {
	TxID string `json:"tx_id"`
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (g *HTTPGateway) TransferTokens(ctx context.Context, from, to, tokenID string, amount decimal.Decimal) (string, error) {
	var resp transferResponse
	err := g.do(ctx, http.MethodPost, "/transfers/tokens",
		tokenTransferRequest{From: from, To: to, TokenID: tokenID, Amount: amount}, &resp)
	if err != nil {
		return "", fmt.Errorf("transfer tokens: %w", err)
	}
	return resp.TxID, nil
}

func (g *HTTPGateway) TransferCurrency(ctx context.Context, from, to string, amount decimal.Decimal, currency string) (string, error) {
	var resp transferResponse
	err := g.do(ctx, http.MethodPost, "/transfers/currency",
		currencyTransferRequest{From: from, To: to, Currency: currency, Amount: amount}, &resp)
	if err != nil {
		return "", fmt.Errorf("transfer currency: %w", err)
	}
	return resp.TxID, nil
}

func (g *HTTPGateway) GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	path := "/accounts/" + url.PathEscape(account) + "/balances/" + url.PathEscape(asset)

	var resp balanceResponse
	op := func() error {
		err := g.do(ctx, http.MethodGet, path, nil, &resp)
		var rejected *RejectedError
		if errors.As(err, &rejected) && rejected.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.balanceTries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return resp.Balance, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key, ok := IdempotencyKey(ctx); ok {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &RejectedError{StatusCode: resp.StatusCode, Code: e.Error, Message: e.Message}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
