package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
	"github.com/VaXeS13/MP-sub001/internal/terminal/transport"
)

// Stripe Terminal: a PaymentIntent is created cloud-side, handed to a
// physical reader, and the intent is polled until the customer taps.
// https://docs.stripe.com/terminal
const (
	stripeAPIBase      = "https://api.stripe.com"
	stripePollAttempts = 60
)

func init() {
	Register("stripe", newStripe)
}

type stripeConfig struct {
	ReaderID      string `json:"reader_id"`
	PollAttempts  int    `json:"poll_attempts,omitempty"`
	P2PECertified *bool  `json:"p2pe_certified,omitempty"`
}

type stripeProvider struct {
	logger   *slog.Logger
	cfg      stripeConfig
	p2pe     bool
	currency string
	rest     *transport.REST
}

func newStripe(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
	cfg := stripeConfig{PollAttempts: stripePollAttempts}
	if err := settings.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.ReaderID == "" {
		return nil, fmt.Errorf("stripe: reader_id is required")
	}
	p2pe := true
	if cfg.P2PECertified != nil {
		p2pe = *cfg.P2PECertified
	}
	return &stripeProvider{logger: logger, cfg: cfg, p2pe: p2pe, currency: settings.Currency}, nil
}

func (p *stripeProvider) Initialize(ctx context.Context, conn terminal.ConnectionSettings) error {
	base := conn.Address
	if base == "" {
		base = stripeAPIBase
	}
	p.rest = transport.NewREST(base, conn.Token, conn.Timeout)
	// Stripe takes form-encoded requests, not JSON.
	p.rest.SetHeader("Content-Type", "application/x-www-form-urlencoded")
	return p.rest.Connect(ctx)
}

// stripeIntent is the subset of the PaymentIntent object we consume.
type stripeIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	LatestCharge string `json:"latest_charge"`
	// LastPaymentError carries the decline the reader observed when the
	// intent falls back to requires_payment_method or gets canceled.
	LastPaymentError *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
	Charges struct {
		Data []struct {
			ID                   string `json:"id"`
			PaymentMethodDetails struct {
				CardPresent struct {
					Brand string `json:"brand"`
					Last4 string `json:"last4"`
				} `json:"card_present"`
			} `json:"payment_method_details"`
		} `json:"data"`
	} `json:"charges"`
}

type stripeError struct {
	Error struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (p *stripeProvider) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restAuthorizeTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(terminal.MinorUnits(req.Amount, req.Currency), 10))
	form.Set("currency", stripeCurrency(req.Currency))
	form.Set("payment_method_types[]", "card_present")
	form.Set("capture_method", "automatic")
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	if req.ReferenceID != "" {
		form.Set("metadata[reference]", req.ReferenceID)
	}

	intent, failed := p.postIntent(ctx, "/v1/payment_intents", form)
	if failed != nil {
		return failed, nil
	}

	// Hand the intent to the physical reader; the customer taps there.
	handoff := url.Values{}
	handoff.Set("payment_intent", intent.ID)
	if _, failed := p.postIntent(ctx, "/v1/terminal/readers/"+p.cfg.ReaderID+"/process_payment_intent", handoff); failed != nil {
		return failed, nil
	}

	// A vendor error reply mid-poll is a terminal outcome too; it is kept
	// as-is so a decline keeps its code instead of degrading to NO_RESPONSE.
	var final *stripeIntent
	var vendorFailed *terminal.PaymentResult
	err := pollStatus(ctx, p.cfg.PollAttempts, func(ctx context.Context) (bool, error) {
		cur, failed := p.getIntent(ctx, intent.ID)
		if failed != nil {
			vendorFailed = failed
			return true, nil
		}
		switch cur.Status {
		case "succeeded", "canceled", "requires_payment_method":
			final = cur
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		if _, ok := err.(pollExhausted); ok {
			p.logger.Warn("payment intent never reached a terminal status", slog.String("intent", intent.ID))
			return timeoutResult("reader did not report a result in time"), nil
		}
		return noResponse(err), nil
	}
	if vendorFailed != nil {
		return vendorFailed, nil
	}

	return p.intentResult(final, req.Currency), nil
}

func (p *stripeProvider) intentResult(intent *stripeIntent, currency string) *terminal.PaymentResult {
	res := &terminal.PaymentResult{
		TransactionID:   intent.ID,
		Amount:          terminal.FromMinorUnits(intent.Amount, currency),
		Currency:        currency,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		SafeMetadata:    map[string]string{"vendor": "stripe"},
	}
	if len(intent.Charges.Data) > 0 {
		card := intent.Charges.Data[0].PaymentMethodDetails.CardPresent
		res.CardBrand = card.Brand
		res.MaskedPan = terminal.MaskPAN(card.Last4)
		res.AuthorizationCode = intent.Charges.Data[0].ID
	} else if intent.LatestCharge != "" {
		res.AuthorizationCode = intent.LatestCharge
	}
	switch intent.Status {
	case "succeeded":
		res.Success = true
		res.Status = terminal.StatusApproved
	case "canceled":
		res.Status = terminal.StatusCancelled
		res.ErrorCode = "canceled"
		res.ErrorMessage = "payment intent was canceled"
		applyPaymentError(res, intent)
	default:
		res.Status = terminal.StatusDeclined
		res.ErrorCode = "card_declined"
		res.ErrorMessage = "reader reported the payment was not completed"
		applyPaymentError(res, intent)
	}
	return res
}

// applyPaymentError replaces the generic decline wording with the intent's
// own last_payment_error when the vendor reported one.
func applyPaymentError(res *terminal.PaymentResult, intent *stripeIntent) {
	e := intent.LastPaymentError
	if e == nil {
		return
	}
	if e.DeclineCode != "" {
		res.ErrorCode = e.DeclineCode
	} else if e.Code != "" {
		res.ErrorCode = e.Code
	}
	if e.Message != "" {
		res.ErrorMessage = e.Message
	}
}

// CapturePayment is a local no-op: the intent is created with
// capture_method=automatic, so funds are captured on authorization.
func (p *stripeProvider) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return autoCapturedResult(transactionID), nil
}

func (p *stripeProvider) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("payment_intent", transactionID)
	// Refund amounts are in the intent's currency, which is the tenant's.
	form.Set("amount", strconv.FormatInt(terminal.MinorUnits(amount, p.currency), 10))
	if reason != "" {
		form.Set("reason", reason)
	}
	body, status, err := p.rest.Do(ctx, http.MethodPost, "/v1/refunds", []byte(form.Encode()))
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return p.vendorFailure(body, status), nil
	}
	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &refund); err != nil {
		return noResponse(fmt.Errorf("decoding refund response: %w", err)), nil
	}
	return &terminal.PaymentResult{
		Success:         refund.Status == "succeeded" || refund.Status == "pending",
		TransactionID:   refund.ID,
		Status:          terminal.StatusRefunded,
		Amount:          amount,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
	}, nil
}

func (p *stripeProvider) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	intent, failed := p.postIntent(ctx, "/v1/payment_intents/"+transactionID+"/cancel", url.Values{})
	if failed != nil {
		return failed, nil
	}
	return &terminal.PaymentResult{
		Success:         intent.Status == "canceled",
		TransactionID:   intent.ID,
		Status:          terminal.StatusCancelled,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
	}, nil
}

func (p *stripeProvider) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	intent, failed := p.getIntent(ctx, transactionID)
	if failed != nil {
		return "", fmt.Errorf("fetching payment intent: %s", failed.ErrorMessage)
	}
	return intent.Status, nil
}

func (p *stripeProvider) CheckTerminalStatus(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	body, status, err := p.rest.Do(ctx, http.MethodGet, "/v1/terminal/readers/"+p.cfg.ReaderID, nil)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, nil
	}
	var reader struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &reader); err != nil {
		return false, err
	}
	return reader.Status == "online", nil
}

func (p *stripeProvider) Close() error {
	if p.rest == nil {
		return nil
	}
	return p.rest.Close()
}

func (p *stripeProvider) postIntent(ctx context.Context, path string, form url.Values) (*stripeIntent, *terminal.PaymentResult) {
	body, status, err := p.rest.Do(ctx, http.MethodPost, path, []byte(form.Encode()))
	if err != nil {
		return nil, noResponse(err)
	}
	if status >= 400 {
		return nil, p.vendorFailure(body, status)
	}
	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, noResponse(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return &intent, nil
}

func (p *stripeProvider) getIntent(ctx context.Context, id string) (*stripeIntent, *terminal.PaymentResult) {
	body, status, err := p.rest.Do(ctx, http.MethodGet, "/v1/payment_intents/"+id, nil)
	if err != nil {
		return nil, noResponse(err)
	}
	if status >= 400 {
		return nil, p.vendorFailure(body, status)
	}
	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, noResponse(fmt.Errorf("decoding payment intent: %w", err))
	}
	return &intent, nil
}

func (p *stripeProvider) vendorFailure(body []byte, status int) *terminal.PaymentResult {
	var e stripeError
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			fmt.Sprintf("stripe returned status %d", status))
	}
	code := e.Error.DeclineCode
	if code == "" {
		code = e.Error.Code
	}
	return terminal.FailedResult(terminal.StatusDeclined, code, e.Error.Message)
}

func stripeCurrency(alpha string) string {
	return strings.ToLower(alpha)
}
