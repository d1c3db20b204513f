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

// Adyen Terminal API: Nexo SaleToPOI messages over the synchronous cloud
// endpoint. The gateway blocks until the shopper finishes on the terminal,
// so there is no polling loop in this family member.
// https://docs.adyen.com/point-of-sale/design-your-integration/terminal-api
const (
	adyenAPIBase     = "https://terminal-api-live.adyen.com"
	adyenTestAPIBase = "https://terminal-api-test.adyen.com"
)

func init() {
	Register("adyen", newAdyen)
}

type adyenConfig struct {
	POIID         string `json:"poi_id"`
	SaleID        string `json:"sale_id,omitempty"`
	Environment   string `json:"environment,omitempty"`
	P2PECertified *bool  `json:"p2pe_certified,omitempty"`
}

type adyenProvider struct {
	logger *slog.Logger
	cfg    adyenConfig
	p2pe   bool
	rest   *transport.REST
}

func newAdyen(logger *slog.Logger, settings terminal.TenantSettings) (Provider, error) {
	var cfg adyenConfig
	if err := settings.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.POIID == "" {
		return nil, fmt.Errorf("adyen: poi_id is required")
	}
	if cfg.SaleID == "" {
		cfg.SaleID = "POS-" + settings.TenantID.String()
	}
	p2pe := true
	if cfg.P2PECertified != nil {
		p2pe = *cfg.P2PECertified
	}
	return &adyenProvider{logger: logger, cfg: cfg, p2pe: p2pe}, nil
}

func (p *adyenProvider) Initialize(ctx context.Context, conn terminal.ConnectionSettings) error {
	base := conn.Address
	if base == "" {
		base = adyenAPIBase
		if p.cfg.Environment == "test" {
			base = adyenTestAPIBase
		}
	}
	timeout := conn.Timeout
	if timeout <= 0 {
		// The sync endpoint holds the request open while the shopper
		// interacts with the terminal.
		timeout = restAuthorizeTimeout
	}
	p.rest = transport.NewREST(base, "", timeout)
	p.rest.SetHeader("X-API-Key", conn.Token)
	return p.rest.Connect(ctx)
}

// Nexo message shapes, reproduced as the Terminal API defines them.

type nexoMessageHeader struct {
	ProtocolVersion string `json:"ProtocolVersion"`
	MessageClass    string `json:"MessageClass"`
	MessageCategory string `json:"MessageCategory"`
	MessageType     string `json:"MessageType"`
	SaleID          string `json:"SaleID"`
	ServiceID       string `json:"ServiceID"`
	POIID           string `json:"POIID"`
}

type nexoAmounts struct {
	Currency        string  `json:"Currency"`
	RequestedAmount float64 `json:"RequestedAmount"`
}

type nexoResponse struct {
	Result             string `json:"Result"`
	ErrorCondition     string `json:"ErrorCondition,omitempty"`
	AdditionalResponse string `json:"AdditionalResponse,omitempty"`
}

type nexoPaymentResponse struct {
	Response nexoResponse `json:"Response"`
	POIData  struct {
		POITransactionID struct {
			TransactionID string `json:"TransactionID"`
			TimeStamp     string `json:"TimeStamp"`
		} `json:"POITransactionID"`
	} `json:"POIData"`
	PaymentResult struct {
		PaymentAcquirerData struct {
			ApprovalCode string `json:"ApprovalCode"`
		} `json:"PaymentAcquirerData"`
		PaymentInstrumentData struct {
			CardData struct {
				MaskedPan    string `json:"MaskedPan"`
				PaymentBrand string `json:"PaymentBrand"`
			} `json:"CardData"`
		} `json:"PaymentInstrumentData"`
	} `json:"PaymentResult"`
}

func (p *adyenProvider) header(category string) nexoMessageHeader {
	return nexoMessageHeader{
		ProtocolVersion: "3.0",
		MessageClass:    "Service",
		MessageCategory: category,
		MessageType:     "Request",
		SaleID:          p.cfg.SaleID,
		ServiceID:       uuid.New().String()[:10],
		POIID:           p.cfg.POIID,
	}
}

func (p *adyenProvider) AuthorizePayment(ctx context.Context, req terminal.PaymentRequest) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restAuthorizeTimeout)
	defer cancel()

	txID := req.ReferenceID
	if txID == "" {
		txID = uuid.New().String()
	}
	payload := map[string]any{
		"SaleToPOIRequest": map[string]any{
			"MessageHeader": p.header("Payment"),
			"PaymentRequest": map[string]any{
				"SaleData": map[string]any{
					"SaleTransactionID": map[string]any{
						"TransactionID": txID,
						"TimeStamp":     time.Now().UTC().Format(time.RFC3339),
					},
				},
				"PaymentTransaction": map[string]any{
					"AmountsReq": nexoAmounts{
						Currency:        req.Currency,
						RequestedAmount: req.Amount.InexactFloat64(),
					},
				},
			},
		},
	}

	pr, failed := p.exchange(ctx, "PaymentResponse", payload)
	if failed != nil {
		return failed, nil
	}
	res := &terminal.PaymentResult{
		TransactionID:     pr.POIData.POITransactionID.TransactionID,
		AuthorizationCode: pr.PaymentResult.PaymentAcquirerData.ApprovalCode,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Timestamp:         time.Now().UTC(),
		CardBrand:         pr.PaymentResult.PaymentInstrumentData.CardData.PaymentBrand,
		MaskedPan:         terminal.MaskPAN(pr.PaymentResult.PaymentInstrumentData.CardData.MaskedPan),
		IsP2PECompliant:   p.p2pe,
		SafeMetadata:      map[string]string{"vendor": "adyen"},
	}
	if pr.Response.Result == "Success" {
		res.Success = true
		res.Status = terminal.StatusApproved
	} else {
		res.Status = terminal.StatusDeclined
		res.ErrorCode = pr.Response.ErrorCondition
		res.ErrorMessage = nexoErrorMessage(pr.Response)
	}
	return res, nil
}

// CapturePayment is a local no-op: the Terminal API authorizes and captures
// in one Payment service call.
func (p *adyenProvider) CapturePayment(ctx context.Context, transactionID string, amount decimal.Decimal) (*terminal.PaymentResult, error) {
	return autoCapturedResult(transactionID), nil
}

func (p *adyenProvider) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	payload := map[string]any{
		"SaleToPOIRequest": map[string]any{
			"MessageHeader": p.header("Payment"),
			"PaymentRequest": map[string]any{
				"SaleData": map[string]any{
					"SaleTransactionID": map[string]any{
						"TransactionID": uuid.New().String(),
						"TimeStamp":     time.Now().UTC().Format(time.RFC3339),
					},
					"SaleReferenceID": transactionID,
				},
				"PaymentTransaction": map[string]any{
					"AmountsReq": nexoAmounts{RequestedAmount: amount.InexactFloat64()},
				},
				"PaymentData": map[string]any{"PaymentType": "Refund"},
			},
		},
	}
	pr, failed := p.exchange(ctx, "PaymentResponse", payload)
	if failed != nil {
		return failed, nil
	}
	return &terminal.PaymentResult{
		Success:         pr.Response.Result == "Success",
		TransactionID:   pr.POIData.POITransactionID.TransactionID,
		Status:          terminal.StatusRefunded,
		Amount:          amount,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		ErrorCode:       pr.Response.ErrorCondition,
	}, nil
}

func (p *adyenProvider) CancelPayment(ctx context.Context, transactionID string) (*terminal.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, restManageTimeout)
	defer cancel()

	payload := map[string]any{
		"SaleToPOIRequest": map[string]any{
			"MessageHeader": p.header("Reversal"),
			"ReversalRequest": map[string]any{
				"OriginalPOITransaction": map[string]any{
					"POITransactionID": map[string]any{
						"TransactionID": transactionID,
						"TimeStamp":     time.Now().UTC().Format(time.RFC3339),
					},
				},
				"ReversalReason": "MerchantCancel",
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding reversal: %w", err)
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/sync", body)
	if err != nil {
		return noResponse(err), nil
	}
	if status >= 400 {
		return terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			fmt.Sprintf("adyen returned status %d", status)), nil
	}
	var resp struct {
		SaleToPOIResponse struct {
			ReversalResponse struct {
				Response nexoResponse `json:"Response"`
				POIData  struct {
					POITransactionID struct {
						TransactionID string `json:"TransactionID"`
					} `json:"POITransactionID"`
				} `json:"POIData"`
			} `json:"ReversalResponse"`
		} `json:"SaleToPOIResponse"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return noResponse(fmt.Errorf("decoding reversal response: %w", err)), nil
	}
	rr := resp.SaleToPOIResponse.ReversalResponse
	return &terminal.PaymentResult{
		Success:         rr.Response.Result == "Success",
		TransactionID:   rr.POIData.POITransactionID.TransactionID,
		Status:          terminal.StatusCancelled,
		Timestamp:       time.Now().UTC(),
		IsP2PECompliant: p.p2pe,
		ErrorCode:       rr.Response.ErrorCondition,
	}, nil
}

func (p *adyenProvider) PaymentStatus(ctx context.Context, transactionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	payload := map[string]any{
		"SaleToPOIRequest": map[string]any{
			"MessageHeader": p.header("TransactionStatus"),
			"TransactionStatusRequest": map[string]any{
				"MessageReference": map[string]any{
					"SaleID":          p.cfg.SaleID,
					"ServiceID":       transactionID,
					"MessageCategory": "Payment",
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding status request: %w", err)
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/sync", body)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fmt.Errorf("adyen returned status %d", status)
	}
	var resp struct {
		SaleToPOIResponse struct {
			TransactionStatusResponse struct {
				Response nexoResponse `json:"Response"`
			} `json:"TransactionStatusResponse"`
		} `json:"SaleToPOIResponse"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decoding status response: %w", err)
	}
	return resp.SaleToPOIResponse.TransactionStatusResponse.Response.Result, nil
}

func (p *adyenProvider) CheckTerminalStatus(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, restStatusTimeout)
	defer cancel()

	payload := map[string]any{
		"SaleToPOIRequest": map[string]any{
			"MessageHeader":    p.header("Diagnosis"),
			"DiagnosisRequest": map[string]any{"HostDiagnosisFlag": false},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/sync", body)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, nil
	}
	var resp struct {
		SaleToPOIResponse struct {
			DiagnosisResponse struct {
				Response  nexoResponse `json:"Response"`
				POIStatus struct {
					GlobalStatus string `json:"GlobalStatus"`
				} `json:"POIStatus"`
			} `json:"DiagnosisResponse"`
		} `json:"SaleToPOIResponse"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return false, err
	}
	dr := resp.SaleToPOIResponse.DiagnosisResponse
	return dr.Response.Result == "Success" && dr.POIStatus.GlobalStatus == "OK", nil
}

func (p *adyenProvider) Close() error {
	if p.rest == nil {
		return nil
	}
	return p.rest.Close()
}

func (p *adyenProvider) exchange(ctx context.Context, _ string, payload map[string]any) (*nexoPaymentResponse, *terminal.PaymentResult) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, noResponse(fmt.Errorf("encoding nexo request: %w", err))
	}
	respBody, status, err := p.rest.Do(ctx, http.MethodPost, "/sync", body)
	if err != nil {
		return nil, noResponse(err)
	}
	if status >= 400 {
		return nil, terminal.FailedResult(terminal.StatusError, terminal.ErrCodeTerminalError,
			fmt.Sprintf("adyen returned status %d", status))
	}
	var resp struct {
		SaleToPOIResponse struct {
			PaymentResponse nexoPaymentResponse `json:"PaymentResponse"`
		} `json:"SaleToPOIResponse"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, noResponse(fmt.Errorf("decoding nexo response: %w", err))
	}
	return &resp.SaleToPOIResponse.PaymentResponse, nil
}

func nexoErrorMessage(r nexoResponse) string {
	if r.AdditionalResponse != "" {
		return r.AdditionalResponse
	}
	if r.ErrorCondition != "" {
		return "terminal reported " + r.ErrorCondition
	}
	return "payment was not successful"
}
