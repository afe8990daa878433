package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/metrics"
)

// HTTPGateway implements Gateway against the ledger bridge service, which
// wraps transaction signing and submission for the ledger network.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPGateway constructs a gateway client for the bridge at baseURL.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateEscrow places a conditional hold of funds on the ledger.
func (g *HTTPGateway) CreateEscrow(ctx context.Context, payer, payee string, amount float64, releaseCondition string) (string, error) {
	req := map[string]interface{}{
		"payer":     payer,
		"payee":     payee,
		"amount":    amount,
		"condition": releaseCondition,
	}

	var resp struct {
		Handle string `json:"handle"`
	}
	if err := g.post(ctx, "create_escrow", "/api/v1/escrows", req, &resp); err != nil {
		return "", err
	}
	return resp.Handle, nil
}

// FinishEscrow releases escrowed funds to the payee.
func (g *HTTPGateway) FinishEscrow(ctx context.Context, handle, proof string) (Confirmation, error) {
	req := map[string]interface{}{
		"handle": handle,
		"proof":  proof,
	}

	var resp Confirmation
	if err := g.post(ctx, "finish_escrow", "/api/v1/escrows/finish", req, &resp); err != nil {
		return Confirmation{}, err
	}
	return resp, nil
}

// CancelEscrow returns escrowed funds to the payer.
func (g *HTTPGateway) CancelEscrow(ctx context.Context, handle string) (Confirmation, error) {
	req := map[string]interface{}{
		"handle": handle,
	}

	var resp Confirmation
	if err := g.post(ctx, "cancel_escrow", "/api/v1/escrows/cancel", req, &resp); err != nil {
		return Confirmation{}, err
	}
	return resp, nil
}

// QueryTokenOwner returns the account currently holding a rights token.
func (g *HTTPGateway) QueryTokenOwner(ctx context.Context, tokenID string) (string, error) {
	start := time.Now()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/v1/tokens/"+tokenID+"/owner", nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	httpResp, err := g.httpClient.Do(request)
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("query_token_owner", "error").Inc()
		return "", &Error{Op: "query_token_owner", Code: "unreachable", Message: err.Error(), Transient: true}
	}
	defer httpResp.Body.Close()
	metrics.GatewayDuration.Observe(time.Since(start).Seconds())

	if httpResp.StatusCode == http.StatusNotFound {
		metrics.GatewayCalls.WithLabelValues("query_token_owner", "not_found").Inc()
		return "", ErrTokenNotFound
	}
	if httpResp.StatusCode != http.StatusOK {
		metrics.GatewayCalls.WithLabelValues("query_token_owner", "error").Inc()
		return "", statusError("query_token_owner", httpResp.StatusCode, httpResp.Body)
	}

	var resp struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	metrics.GatewayCalls.WithLabelValues("query_token_owner", "ok").Inc()
	return resp.Owner, nil
}

// TransferFungible moves reward tokens between accounts.
func (g *HTTPGateway) TransferFungible(ctx context.Context, from, to string, amount float64, memo string) (Confirmation, error) {
	req := map[string]interface{}{
		"from":   from,
		"to":     to,
		"amount": amount,
		"memo":   memo,
	}

	var resp Confirmation
	if err := g.post(ctx, "transfer_fungible", "/api/v1/payments", req, &resp); err != nil {
		return Confirmation{}, err
	}
	return resp, nil
}

func (g *HTTPGateway) post(ctx context.Context, op, path string, req interface{}, out interface{}) error {
	start := time.Now()

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	httpResp, err := g.httpClient.Do(request)
	if err != nil {
		// Network failures and client timeouts are retryable.
		metrics.GatewayCalls.WithLabelValues(op, "error").Inc()
		return &Error{Op: op, Code: "unreachable", Message: err.Error(), Transient: true}
	}
	defer httpResp.Body.Close()
	metrics.GatewayDuration.Observe(time.Since(start).Seconds())

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		metrics.GatewayCalls.WithLabelValues(op, "error").Inc()
		return statusError(op, httpResp.StatusCode, httpResp.Body)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	metrics.GatewayCalls.WithLabelValues(op, "ok").Inc()
	return nil
}

func statusError(op string, status int, body io.Reader) error {
	var errBody errorResponse
	_ = json.NewDecoder(body).Decode(&errBody)

	if errBody.Code == "" {
		errBody.Code = fmt.Sprintf("http_%d", status)
	}
	if errBody.Message == "" {
		errBody.Message = http.StatusText(status)
	}

	return &Error{
		Op:      op,
		Code:    errBody.Code,
		Message: errBody.Message,
		// Rate limiting and server-side failures are worth retrying;
		// everything else is a terminal rejection.
		Transient: status == http.StatusTooManyRequests || status >= 500,
	}
}
