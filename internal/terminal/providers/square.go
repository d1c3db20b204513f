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

// Square Terminal API: a checkout is pushed to a paired Terminal device and
// polled until the customer completes or cancels it.
// https://developer.squareup.com/docs/terminal-api
const (
	squareAPIBase        = "https://connect.squareup.com"
	squareSandboxAPIBase = "https://connect.squareupsandbox.com"
	squarePollAttempts   = 90
	squareAPIVersion     = "2023-12-13"
)

func init() {
	Register("square", newSquare)
}

type squareConfig struct {
	DeviceID      string `json:"device_id"`
	Environment   string `json:"environment,omitempty"`
	PollAttempts  int    `json:"poll_attempts,omitempty"`
	P2PECertified *bool  `json:"p2pe_certified,omitempty"`
}

type squareProvider struct {
	logger *slog.Logger
	cfg    squareConfig
	p2pe   bool
	rest   *transport.REST
}

func newSquare(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
	cfg := squareConfig{PollAttempts: squarePollAttempts}
	if err := settings.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("square: device_id is required")
	}
	p2pe := true
	if cfg.P2PECertified != nil {
		p2pe = *cfg.P2PECertified
	}
	return &squareProvider{logger: logger, cfg: cfg, p2pe: p2pe}, nil
}

func (p *squareProvider) Initialize(ctx context.Context, conn terminal.ConnectionSettings) error {
	base := conn.Address
	if base == "" {
		base = squareAPIBase
		if p.cfg.Environment == "sandbox" {
			base = squareSandboxAPIBase
		}
	}
	p.rest = transport.NewREST(base, conn.Token, conn.Timeout)
	p.rest.SetHeader("Square-Version", squareAPIVersion)
	return p.rest.Connect(ctx)
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareCheckout struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	AmountMoney squareMoney `json:"amount_money"`
	PaymentIDs  []string    `json:"payment_ids"`
}

type squareErrors struct {
	Errors []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
}

func (p *squareProvider) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restAuthorizeTimeout)
	defer cancel()

	payload := map[string]any{
		"idempotency_key": uuid.New().String(),
		"checkout": map[string]any{
			"amount_money": squareMoney{
				Amount:   terminal.MinorUnits(req.Amount, req.Currency),
				Currency: req.Currency,
			},
			"device_options": map[string]any{"device_id": p.cfg.DeviceID},
			"reference_id":   req.ReferenceID,
			"note":           req.Description,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding checkout: %w", err)
	}

	checkout, failed := p.exchange(ctx, http.MethodPost, "/v2/terminals/checkouts", body)
	if failed != nil {
		return failed, nil
	}

	var final *squareCheckout
	err = pollStatus(ctx, p.cfg.PollAttempts, func(ctx context.Context) (bool, error) {
		cur, failed := p.exchange(ctx, http.MethodGet, "/v2/terminals/checkouts/"+checkout.ID, nil)
		if failed != nil {
			return false, fmt.Errorf("%s", failed.ErrorMessage)
		}
		switch cur.Status {
		case "COMPLETED", "CANCELED", "CANCEL_REQUESTED":
			final = cur
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		if _, ok := err.(pollExhausted); ok {
			return timeoutResult("terminal checkout did not complete in time"), nil
		}
		return noResponse(err), nil
	}

	res := &terminal.PaymentResult{
		TransactionID:   final.ID,
		Amount:          terminal.FromMinorUnits(final.AmountMoney.Amount, req.Currency),
		Currency:        req.Currency,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		SafeMetadata:    map[string]string{"vendor": "square"},
	}
	if final.Status == "COMPLETED" {
		res.Success = true
		res.Status = terminal.StatusApproved
		if len(final.PaymentIDs) > 0 {
			res.AuthorizationCode = final.PaymentIDs[0]
		}
	} else {
		res.Status = terminal.StatusCancelled
		res.ErrorCode = "CHECKOUT_CANCELED"
		res.ErrorMessage = "terminal checkout was canceled"
	}
	return res, nil
}

// CapturePayment is a local no-op: Terminal checkouts settle on completion.
func (p *squareProvider) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return autoCapturedResult(transactionID), nil
}

func (p *squareProvider) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	// Refunds are issued against the payment, not the checkout.
	checkout, failed := p.exchange(ctx, http.MethodGet, "/v2/terminals/checkouts/"+transactionID, nil)
	if failed != nil {
		return failed, nil
	}
	if len(checkout.PaymentIDs) == 0 {
		return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			"checkout has no payment to refund"), nil
	}

	payload := map[string]any{
		"idempotency_key": uuid.New().String(),
		"payment_id":      checkout.PaymentIDs[0],
		"amount_money": squareMoney{
			Amount:   terminal.MinorUnits(amount, checkout.AmountMoney.Currency),
			Currency: checkout.AmountMoney.Currency,
		},
		"reason": reason,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding refund: %w", err)
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/v2/refunds", body)
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return p.vendorFailure(respBody, status), nil
	}
	var resp struct {
		Refund struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"refund"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return noResponse(fmt.Errorf("decoding refund response: %w", err)), nil
	}
	return &terminal.PaymentResult{
		Success:         resp.Refund.Status == "PENDING" || resp.Refund.Status == "COMPLETED",
		TransactionID:   resp.Refund.ID,
		Status:          terminal.StatusRefunded,
		Amount:          amount,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
	}, nil
}

func (p *squareProvider) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	checkout, failed := p.exchange(ctx, http.MethodPost, "/v2/terminals/checkouts/"+transactionID+"/cancel", []byte("{}"))
	if failed != nil {
		return failed, nil
	}
	return &terminal.PaymentResult{
		Success:         checkout.Status == "CANCELED" || checkout.Status == "CANCEL_REQUESTED",
		TransactionID:   checkout.ID,
		Status:          terminal.StatusCancelled,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
	}, nil
}

func (p *squareProvider) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	checkout, failed := p.exchange(ctx, http.MethodGet, "/v2/terminals/checkouts/"+transactionID, nil)
	if failed != nil {
		return "", fmt.Errorf("fetching checkout: %s", failed.ErrorMessage)
	}
	return checkout.Status, nil
}

func (p *squareProvider) CheckTerminalStatus(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	body, status, err := p.rest.Do(ctx, http.MethodGet, "/v2/devices/"+p.cfg.DeviceID, nil)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, nil
	}
	var resp struct {
		Device struct {
			Status struct {
				Category string `json:"category"`
			} `json:"status"`
		} `json:"device"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, err
	}
	return resp.Device.Status.Category == "AVAILABLE", nil
}

func (p *squareProvider) Close() error {
	if p.rest == nil {
		return nil
	}
	return p.rest.Close()
}

// exchange performs one checkout-shaped request/response with vendor error
// translation.
func (p *squareProvider) exchange(ctx context.Context, method, path string, body []byte) (*squareCheckout, *terminal.PaymentResult) {
	respBody, status, err := p.rest.Do(ctx, method, path, body)
	if err != nil {
		return nil, noResponse(err)
	}
	if status >= 400 {
		return nil, p.vendorFailure(respBody, status)
	}
	var resp struct {
		Checkout squareCheckout `json:"checkout"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, noResponse(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return &resp.Checkout, nil
}

func (p *squareProvider) vendorFailure(body []byte, status int) *terminal.PaymentResult {
	var e squareErrors
	if err := json.Unmarshal(body, &e); err != nil || len(e.Errors) == 0 {
		return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			fmt.Sprintf("square returned status %d", status))
	}
	first := e.Errors[0]
	return terminal.FailedResult(terminal.StatusDeclined, first.Code, first.Detail)
}
