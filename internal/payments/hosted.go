package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/sethvargo/go-retry"

	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// ErrBadSignature is returned when callback parameters fail authentication.
var ErrBadSignature = errors.New("callback signature mismatch")

// HostedGateway implements the tokenize-and-redirect flow: the buyer is sent
// to the provider's hosted page with a signed field set, and the provider
// confirms the result through a signed server-to-server callback.
type HostedGateway struct {
	cfg    config.PaymentsConfig
	client *http.Client
}

func NewHostedGateway(cfg config.PaymentsConfig) *HostedGateway {
	return &HostedGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.StatusCallTimeout},
	}
}

func (g *HostedGateway) Kind() enums.GatewayKind {
	return enums.GatewayHosted
}

func (g *HostedGateway) Charge(_ context.Context, intent Intent) (*Result, error) {
	if g.cfg.HostedPaymentURL == "" {
		return nil, errors.New("hosted gateway is not configured")
	}

	fields := map[string]string{
		"merchant_identifier": g.cfg.HostedMerchantID,
		"access_code":         g.cfg.HostedAccessCode,
		"merchant_reference":  intent.MerchantReference,
		"amount":              strconv.FormatInt(intent.AmountCents, 10),
		"currency":            intent.Currency,
		"order_description":   intent.Description,
		"return_url":          intent.ReturnURL,
	}
	fields["signature"] = g.sign(fields)

	return &Result{
		Outcome:        OutcomeRedirect,
		RedirectURL:    g.cfg.HostedPaymentURL,
		RedirectMethod: http.MethodPost,
		RedirectFields: fields,
	}, nil
}

// VerifyCallback recomputes the signature over every parameter except the
// signature itself and compares in constant time.
func (g *HostedGateway) VerifyCallback(params map[string]string) error {
	provided, ok := params["signature"]
	if !ok || provided == "" {
		return ErrBadSignature
	}
	unsigned := make(map[string]string, len(params))
	for k, v := range params {
		if k == "signature" {
			continue
		}
		unsigned[k] = v
	}
	expected := g.sign(unsigned)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrBadSignature
	}
	return nil
}

func (g *HostedGateway) ParseCallback(params map[string]string) (CallbackResult, error) {
	ref := strings.TrimSpace(params["merchant_reference"])
	if ref == "" {
		return CallbackResult{}, errors.New("callback missing merchant reference")
	}

	result := CallbackResult{
		MerchantReference: ref,
		TransactionID:     params["transaction_id"],
	}
	switch strings.ToLower(params["status"]) {
	case "captured", "success":
		result.Outcome = OutcomeApproved
	default:
		result.Outcome = OutcomeDeclined
		result.FailureReason = params["response_message"]
		if result.FailureReason == "" {
			result.FailureReason = "payment not captured"
		}
	}
	return result, nil
}

// Status queries the provider for the current state of a payment. The call is
// idempotent and side-effect free, so transient failures are retried with a
// bounded constant backoff.
func (g *HostedGateway) Status(ctx context.Context, merchantReference string) (CallbackResult, error) {
	if g.cfg.HostedStatusURL == "" {
		return CallbackResult{}, errors.New("hosted gateway status url is not configured")
	}

	request := map[string]string{
		"merchant_identifier": g.cfg.HostedMerchantID,
		"access_code":         g.cfg.HostedAccessCode,
		"merchant_reference":  merchantReference,
	}
	request["signature"] = g.sign(request)
	body, err := json.Marshal(request)
	if err != nil {
		return CallbackResult{}, err
	}

	var response map[string]string
	backoff := retry.WithMaxRetries(g.cfg.StatusMaxRetries, retry.NewConstant(g.cfg.StatusRetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.HostedStatusURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("status call returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status call returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&response)
	})
	if err != nil {
		return CallbackResult{}, err
	}

	if err := g.VerifyCallback(response); err != nil {
		return CallbackResult{}, err
	}
	return g.ParseCallback(response)
}

// sign computes an HMAC-SHA256 over the sorted key=value pairs using the
// shared phrase as the key.
func (g *HostedGateway) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
		sb.WriteString("&")
	}

	mac := hmac.New(sha256.New, []byte(g.cfg.HostedSHAPhrase))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
