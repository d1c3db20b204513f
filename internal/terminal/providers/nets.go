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

// Nets (Nexi) Checkout: a payment is registered cloud-side, completed on a
// connected terminal, and polled until authorized or terminated.
// https://developer.nexigroup.com/nexi-checkout
const (
	netsAPIBase      = "https://api.dibspayment.eu"
	netsTestAPIBase  = "https://test.api.dibspayment.eu"
	netsPollAttempts = 90
)

func init() {
	Register("nets", newNets)
}

type netsConfig struct {
	TerminalID    string `json:"terminal_id"`
	Environment   string `json:"environment,omitempty"`
	PollAttempts  int    `json:"poll_attempts,omitempty"`
	P2PECertified *bool  `json:"p2pe_certified,omitempty"`
}

type netsProvider struct {
	logger   *slog.Logger
	cfg      netsConfig
	p2pe     bool
	currency string
	rest     *transport.REST
}

func newNets(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
	cfg := netsConfig{PollAttempts: netsPollAttempts}
	if err := settings.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.TerminalID == "" {
		return nil, fmt.Errorf("nets: terminal_id is required")
	}
	p2pe := true
	if cfg.P2PECertified != nil {
		p2pe = *cfg.P2PECertified
	}
	return &netsProvider{logger: logger, cfg: cfg, p2pe: p2pe, currency: settings.Currency}, nil
}

func (p *netsProvider) Initialize(ctx context.Context, conn terminal.ConnectionSettings) error {
	base := conn.Address
	if base == "" {
		base = netsAPIBase
		if p.cfg.Environment == "test" {
			base = netsTestAPIBase
		}
	}
	p.rest = transport.NewREST(base, conn.Token, conn.Timeout)
	return p.rest.Connect(ctx)
}

type netsPayment struct {
	Payment struct {
		PaymentID string `json:"paymentId"`
		Summary   struct {
			AuthorizedAmount int64 `json:"reservedAmount"`
			ChargedAmount    int64 `json:"chargedAmount"`
		} `json:"summary"`
		PaymentDetails struct {
			PaymentType string `json:"paymentType"`
			CardDetails struct {
				MaskedPan string `json:"maskedPan"`
			} `json:"cardDetails"`
		} `json:"paymentDetails"`
		Terminated string `json:"terminated,omitempty"`
	} `json:"payment"`
}

func (p *netsProvider) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restAuthorizeTimeout)
	defer cancel()

	reference := req.ReferenceID
	if reference == "" {
		reference = uuid.New().String()
	}
	payload := map[string]any{
		"order": map[string]any{
			"amount":    terminal.MinorUnits(req.Amount, req.Currency),
			"currency":  req.Currency,
			"reference": reference,
			"items": []map[string]any{{
				"reference": reference,
				"name":      orDefault(req.ItemName, "POS sale"),
				"quantity":  1,
				"unit":      "pcs",
			}},
		},
		"checkout": map[string]any{
			"integrationType": "HostedPaymentPage",
			"terminalId":      p.cfg.TerminalID,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payment: %w", err)
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/v1/payments", body)
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return p.vendorFailure(respBody, status), nil
	}
	var created struct {
		PaymentID string `json:"paymentId"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return noResponse(fmt.Errorf("decoding payment response: %w", err)), nil
	}

	// The vendor-documented completion signal is reservedAmount turning
	// positive; the amount itself is not cross-checked here, only logged
	// when it disagrees with the request.
	requested := terminal.MinorUnits(req.Amount, req.Currency)
	var final *netsPayment
	err = pollStatus(ctx, p.cfg.PollAttempts, func(ctx context.Context) (bool, error) {
		cur, failed := p.getPayment(ctx, created.PaymentID)
		if failed != nil {
			return false, fmt.Errorf("%s", failed.ErrorMessage)
		}
		if cur.Payment.Summary.AuthorizedAmount > 0 || cur.Payment.Terminated != "" {
			final = cur
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		if _, ok := err.(pollExhausted); ok {
			return timeoutResult("terminal did not authorize the payment in time"), nil
		}
		return noResponse(err), nil
	}

	res := &terminal.PaymentResult{
		TransactionID:   final.Payment.PaymentID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Timestamp:       time.Now().UTC(),
		MaskedPan:       terminal.MaskPAN(final.Payment.PaymentDetails.CardDetails.MaskedPan),
		CardBrand:       final.Payment.PaymentDetails.PaymentType,
		IsP2PECompliant: p.p2pe,
		SafeMetadata:    map[string]string{"vendor": "nets", "terminal_id": p.cfg.TerminalID},
	}
	if final.Payment.Summary.AuthorizedAmount > 0 {
		if final.Payment.Summary.AuthorizedAmount != requested {
			p.logger.Debug("authorized amount differs from requested",
				slog.Int64("requested", requested),
				slog.Int64("authorized", final.Payment.Summary.AuthorizedAmount))
		}
		res.Success = true
		res.Status = terminal.StatusApproved
	} else {
		res.Status = terminal.StatusDeclined
		res.ErrorCode = "TERMINATED"
		res.ErrorMessage = "payment was terminated before authorization"
	}
	return res, nil
}

func (p *netsProvider) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	payload := map[string]any{"amount": terminal.MinorUnits(amount, p.currency)}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding charge: %w", err)
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/v1/payments/"+transactionID+"/charges", body)
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return p.vendorFailure(respBody, status), nil
	}
	var resp struct {
		ChargeID string `json:"chargeId"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return noResponse(fmt.Errorf("decoding charge response: %w", err)), nil
	}
	return &terminal.PaymentResult{
		Success:         true,
		TransactionID:   resp.ChargeID,
		Status:          terminal.StatusApproved,
		Amount:          amount,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
	}, nil
}

func (p *netsProvider) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	payload := map[string]any{"amount": terminal.MinorUnits(amount, p.currency)}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding refund: %w", err)
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/v1/payments/"+transactionID+"/refunds", body)
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return p.vendorFailure(respBody, status), nil
	}
	var resp struct {
		RefundID string `json:"refundId"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return noResponse(fmt.Errorf("decoding refund response: %w", err)), nil
	}
	return &terminal.PaymentResult{
		Success:         true,
		TransactionID:   resp.RefundID,
		Status:          terminal.StatusRefunded,
		Amount:          amount,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		SafeMetadata:    map[string]string{"refunded_payment": transactionID},
	}, nil
}

func (p *netsProvider) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	cur, failed := p.getPayment(ctx, transactionID)
	if failed != nil {
		return failed, nil
	}
	payload := map[string]any{"amount": cur.Payment.Summary.AuthorizedAmount}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding cancel: %w", err)
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/v1/payments/"+transactionID+"/cancels", body)
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return p.vendorFailure(respBody, status), nil
	}
	return &terminal.PaymentResult{
		Success:         true,
		TransactionID:   transactionID,
		Status:          terminal.StatusCancelled,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
	}, nil
}

func (p *netsProvider) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	cur, failed := p.getPayment(ctx, transactionID)
	if failed != nil {
		return "", fmt.Errorf("fetching payment: %s", failed.ErrorMessage)
	}
	switch {
	case cur.Payment.Summary.ChargedAmount > 0:
		return "charged", nil
	case cur.Payment.Summary.AuthorizedAmount > 0:
		return "reserved", nil
	case cur.Payment.Terminated != "":
		return "terminated", nil
	default:
		return "created", nil
	}
}

func (p *netsProvider) CheckTerminalStatus(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	_, status, err := p.rest.Do(ctx, http.MethodGet, "/v1/terminals/"+p.cfg.TerminalID, nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func (p *netsProvider) Close() error {
	if p.rest == nil {
		return nil
	}
	return p.rest.Close()
}

func (p *netsProvider) getPayment(ctx context.Context, id string) (*netsPayment, *terminal.PaymentResult) {
	respBody, status, err := p.rest.Do(ctx, http.MethodGet, "/v1/payments/"+id, nil)
	if err != nil {
		return nil, noResponse(err)
	}
	if status >= 400 {
		return nil, p.vendorFailure(respBody, status)
	}
	var payment netsPayment
	if err := json.Unmarshal(respBody, &payment); err != nil {
		return nil, noResponse(fmt.Errorf("decoding payment: %w", err))
	}
	return &payment, nil
}

func (p *netsProvider) vendorFailure(body []byte, status int) *terminal.PaymentResult {
	var e struct {
		Errors  map[string][]string `json:"errors"`
		Message string              `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return terminal.FailedResult(terminal.StatusDeclined, fmt.Sprintf("HTTP_%d", status), e.Message)
		}
		for field, msgs := range e.Errors {
			if len(msgs) > 0 {
				return terminal.FailedResult(terminal.StatusDeclined, fmt.Sprintf("HTTP_%d", status),
					field+": "+msgs[0])
			}
		}
	}
	return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
		fmt.Sprintf("nets returned status %d", status))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
