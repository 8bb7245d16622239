// Package lightning はLightningノード（LND）との連携機能を提供する。
// 入札デポジットとコントリビューション支払いのインボイス発行に使用される。
package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// InvoicerService はインボイス発行機能のインターフェースを定義する。
type InvoicerService interface {
	// CreateInvoice は指定額・有効期間のインボイスを発行し、payment request文字列を返す。
	CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (string, error)
}

// Client はLND REST APIのクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string
	macaroonHex string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはLNDのRESTエンドポイント（例: https://localhost:8080）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, macaroonHex string) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     baseURL,
		macaroonHex: macaroonHex,
	}
}

// addInvoiceRequest はLNDのAddInvoice REST呼び出しのリクエストボディ。
// LNDのREST表現ではint64フィールドは文字列で渡す。
type addInvoiceRequest struct {
	Memo   string `json:"memo"`
	Value  string `json:"value"`
	Expiry string `json:"expiry"`
}

// addInvoiceResponse はLNDのAddInvoice REST呼び出しのレスポンス。
type addInvoiceResponse struct {
	PaymentRequest string `json:"payment_request"`
}

// CreateInvoice は指定額・有効期間のインボイスを発行し、payment request文字列を返す。
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (string, error) {
	if amountSats <= 0 {
		return "", fmt.Errorf("インボイス額が不正です: %d", amountSats)
	}

	payload, err := json.Marshal(addInvoiceRequest{
		Memo:   memo,
		Value:  strconv.FormatInt(amountSats, 10),
		Expiry: strconv.FormatInt(int64(expiry.Seconds()), 10),
	})
	if err != nil {
		return "", fmt.Errorf("リクエストボディの構築に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/invoices", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Grpc-Metadata-macaroon", c.macaroonHex)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("LNDインボイス発行の呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int64("amount_sats", amountSats),
		)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("LNDがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.Int64("amount_sats", amountSats),
		)
		return "", fmt.Errorf("LNDがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result addInvoiceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if result.PaymentRequest == "" {
		return "", fmt.Errorf("LNDのレスポンスにpayment_requestが含まれていません")
	}

	return result.PaymentRequest, nil
}

// compile-time interface check
var _ InvoicerService = (*Client)(nil)
