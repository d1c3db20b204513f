package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/transport"
)

// SumUp: a checkout object is created against the merchant account and
// completed on a paired Solo reader; the checkout is polled until it turns
// PAID or FAILED. https://developer.sumup.com/api
const (
	sumupAPIBase      = "https://api.sumup.com"
	sumupPollAttempts = 120
)

func init() {
	Register("sumup", newSumUp)
}

type sumupConfig struct {
	MerchantCode  string `json:"merchant_code"`
	PayToEmail    string `json:"pay_to_email,omitempty"`
	PollAttempts  int    `json:"poll_attempts,omitempty"`
	P2PECertified *bool  `json:"p2pe_certified,omitempty"`
}

type sumupProvider struct {
	logger *slog.Logger
	cfg    sumupConfig
	p2pe   bool
	rest   *transport.REST
}

func newSumUp(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
	cfg := sumupConfig{PollAttempts: sumupPollAttempts}
	if err := settings.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.MerchantCode == "" {
		return nil, fmt.Errorf("sumup: merchant_code is required")
	}
	p2pe := true
	if cfg.P2PECertified != nil {
		p2pe = *cfg.P2PECertified
	}
	return &sumupProvider{logger: logger, cfg: cfg, p2pe: p2pe}, nil
}

func (p *sumupProvider) Initialize(ctx context.Context, conn terminal.ConnectionSettings) error {
	base := conn.Address
	if base == "" {
		base = sumupAPIBase
	}
	p.rest = transport.NewREST(base, conn.Token, conn.Timeout)
	return p.rest.Connect(ctx)
}

type sumupCheckout struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Transactions []struct {
		ID       string `json:"id"`
		AuthCode string `json:"auth_code"`
		CardType string `json:"card_type"`
		Last4    string `json:"last4_digits"`
	} `json:"transactions"`
}

type sumupError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (p *sumupProvider) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	reference := req.ReferenceID
	if reference == "" {
		reference = uuid.New().String()
	}
	payload := map[string]any{
		"checkout_reference": reference,
		"amount":             req.Amount.InexactFloat64(),
		"currency":           req.Currency,
		"merchant_code":      p.cfg.MerchantCode,
		"description":        req.Description,
	}
	if p.cfg.PayToEmail != "" {
		payload["pay_to_email"] = p.cfg.PayToEmail
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding checkout: %w", err)
	}

	checkout, failed := p.exchange(ctx, http.MethodPost, "/v0.1/checkouts", body)
	if failed != nil {
		return failed, nil
	}

	var final *sumupCheckout
	err = pollStatus(ctx, p.cfg.PollAttempts, func(ctx context.Context) (bool, error) {
		cur, failed := p.exchange(ctx, http.MethodGet, "/v0.1/checkouts/"+checkout.ID, nil)
		if failed != nil {
			return false, fmt.Errorf("%s", failed.ErrorMessage)
		}
		switch cur.Status {
		case "PAID", "FAILED":
			final = cur
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		if _, ok := err.(pollExhausted); ok {
			return timeoutResult("checkout was not completed on the reader in time"), nil
		}
		return noResponse(err), nil
	}

	res := &terminal.PaymentResult{
		TransactionID:   final.ID,
		Amount:          decimal.NewFromFloat(final.Amount),
		Currency:        final.Currency,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		SafeMetadata:    map[string]string{"vendor": "sumup", "merchant_code": p.cfg.MerchantCode},
	}
	if len(final.Transactions) > 0 {
		tx := final.Transactions[0]
		res.AuthorizationCode = tx.AuthCode
		res.CardBrand = tx.CardType
		res.MaskedPan = terminal.MaskPAN(tx.Last4)
	}
	if final.Status == "PAID" {
		res.Success = true
		res.Status = terminal.StatusApproved
	} else {
		res.Status = terminal.StatusDeclined
		res.ErrorCode = "FAILED"
		res.ErrorMessage = "checkout failed on the reader"
	}
	return res, nil
}

// CapturePayment is a local no-op: SumUp checkouts settle when paid.
func (p *sumupProvider) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return autoCapturedResult(transactionID), nil
}

func (p *sumupProvider) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	// Refunds address the underlying transaction, not the checkout.
	checkout, failed := p.exchange(ctx, http.MethodGet, "/v0.1/checkouts/"+transactionID, nil)
	if failed != nil {
		return failed, nil
	}
	if len(checkout.Transactions) == 0 {
		return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			"checkout has no transaction to refund"), nil
	}
	txID := checkout.Transactions[0].ID

	body, err := json.Marshal(map[string]any{"amount": amount.InexactFloat64()})
	if err != nil {
		return nil, fmt.Errorf("encoding refund: %w", err)
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/v0.1/me/refund/"+txID, body)
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return p.vendorFailure(respBody, status), nil
	}
	// A refund allocates its own reference on the vendor side.
	return &terminal.PaymentResult{
		Success:         true,
		TransactionID:   "refund_" + uuid.New().String(),
		Status:          terminal.StatusRefunded,
		Amount:          amount,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		SafeMetadata:    map[string]string{"refunded_transaction": txID},
	}, nil
}

func (p *sumupProvider) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	respBody, status, err := p.rest.Do(ctx, http.MethodDelete, "/v0.1/checkouts/"+transactionID, nil)
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return p.vendorFailure(respBody, status), nil
	}
	var checkout sumupCheckout
	if err := json.Unmarshal(respBody, &checkout); err != nil {
		return noResponse(fmt.Errorf("decoding cancel response: %w", err)), nil
	}
	return &terminal.PaymentResult{
		Success:         checkout.Status == "EXPIRED" || checkout.Status == "FAILED",
		TransactionID:   checkout.ID,
		Status:          terminal.StatusCancelled,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
	}, nil
}

func (p *sumupProvider) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	checkout, failed := p.exchange(ctx, http.MethodGet, "/v0.1/checkouts/"+transactionID, nil)
	if failed != nil {
		return "", fmt.Errorf("fetching checkout: %s", failed.ErrorMessage)
	}
	return checkout.Status, nil
}

func (p *sumupProvider) CheckTerminalStatus(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	// The merchant profile answering is the best liveness signal the
	// public API offers for a paired reader.
	_, status, err := p.rest.Do(ctx, http.MethodGet, "/v0.1/me", nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func (p *sumupProvider) Close() error {
	if p.rest == nil {
		return nil
	}
	return p.rest.Close()
}

func (p *sumupProvider) exchange(ctx context.Context, method, path string, body []byte) (*sumupCheckout, *terminal.PaymentResult) {
	respBody, status, err := p.rest.Do(ctx, method, path, body)
	if err != nil {
		return nil, noResponse(err)
	}
	if status >= 400 {
		return nil, p.vendorFailure(respBody, status)
	}
	var checkout sumupCheckout
	if err := json.Unmarshal(respBody, &checkout); err != nil {
		return nil, noResponse(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return &checkout, nil
}

func (p *sumupProvider) vendorFailure(body []byte, status int) *terminal.PaymentResult {
	var e sumupError
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			fmt.Sprintf("sumup returned status %d", status))
	}
	return terminal.FailedResult(terminal.StatusDeclined, e.ErrorCode, e.Message)
}
