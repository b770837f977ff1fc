// Package taecel implements the TAECEL REST provider client (C2): a
// form-encoded POST API authenticated with a key+nip pair, spread across
// three endpoints (/getBalance, /RequestTXN, /StatusTXN)
package taecel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/platform/logger"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

const (
	defaultBaseURL = "https://taecel.com/app/api"
	defaultTimeout = 30 * time.Second
	airtimeBolsa   = "Tiempo Aire"
)

// Options configures a Client
type Options struct {
	BaseURL string
	Key     string
	NIP     string
	Timeout time.Duration
}

// Client is the TAECEL REST client. Grounded on the teacher's github
// adapter's retry/backoff/logging shape, trimmed to TAECEL's simpler
// three-endpoint surface (no token rotation, no rate-limit headers)
type Client struct {
	http *http.Client
	opts Options
	log  logger.Logger
}

// NewClient builds a Client with sane defaults
func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: o.Timeout},
		opts: o,
		log:  *logger.Named("taecel"),
	}
}

func (c *Client) Name() domain.ProviderName { return domain.ProviderTaecel }

// getBalanceResponse mirrors TAECEL's /getBalance payload
type getBalanceResponse struct {
	Success string `json:"success"`
	Message string `json:"message"`
	Data    []struct {
		Bolsa string `json:"Bolsa"`
		Saldo string `json:"Saldo"`
	} `json:"data"`
}

func (c *Client) Balance(ctx context.Context) (domain.ProviderBalance, error) {
	var payload getBalanceResponse
	if err := c.post(ctx, "/getBalance", url.Values{}, &payload); err != nil {
		return domain.ProviderBalance{}, err
	}
	for _, d := range payload.Data {
		if d.Bolsa == airtimeBolsa {
			amt, err := strconv.ParseFloat(d.Saldo, 64)
			if err != nil {
				return domain.ProviderBalance{}, perr.ProviderDomainf("taecel: parse balance %q: %v", d.Saldo, err)
			}
			return domain.ProviderBalance{Name: domain.ProviderTaecel, Balance: amt, Available: true}, nil
		}
	}
	return domain.ProviderBalance{Name: domain.ProviderTaecel, Available: false}, nil
}

// requestTXNResponse mirrors TAECEL's /RequestTXN payload
type requestTXNResponse struct {
	Success string `json:"success"`
	Message string `json:"message"`
	Data    struct {
		TransID string `json:"TransID"`
	} `json:"data"`
}

// statusTXNResponse mirrors TAECEL's /StatusTXN success payload
type statusTXNResponse struct {
	Success string `json:"success"`
	Message string `json:"message"`
	Data    struct {
		TransID         string `json:"TransID"`
		Folio           string `json:"Folio"`
		Monto           string `json:"Monto"`
		Carrier         string `json:"Carrier"`
		Fecha           string `json:"Fecha"`
		SaldoFinal      string `json:"Saldo Final"`
		Nota            string `json:"Nota"`
		Timeout         string `json:"Timeout"`
		IP              string `json:"IP"`
	} `json:"data"`
}

func (c *Client) Recharge(ctx context.Context, req domain.RechargeRequest) (domain.WebserviceCallResult, error) {
	reqForm := url.Values{}
	reqForm.Set("producto", productCodeFor(req.ServiceType))
	reqForm.Set("referencia", req.Sim)
	reqForm.Set("monto", req.Amount.StringFixed(2))

	var reqResp requestTXNResponse
	if err := c.post(ctx, "/RequestTXN", reqForm, &reqResp); err != nil {
		return domain.WebserviceCallResult{}, err
	}
	if reqResp.Success != "true" && reqResp.Success != "1" {
		return domain.WebserviceCallResult{}, perr.ProviderDomainf("taecel: request txn rejected: %s", reqResp.Message)
	}

	statusForm := url.Values{}
	statusForm.Set("transID", reqResp.Data.TransID)

	var statusResp statusTXNResponse
	if err := c.post(ctx, "/StatusTXN", statusForm, &statusResp); err != nil {
		return domain.WebserviceCallResult{}, err
	}
	if statusResp.Success != "true" && statusResp.Success != "1" {
		return domain.WebserviceCallResult{}, perr.ProviderDomainf("taecel: status txn rejected: %s", statusResp.Message)
	}

	monto, _ := decimal.NewFromString(statusResp.Data.Monto)
	timeoutMs, _ := strconv.Atoi(statusResp.Data.Timeout)

	return domain.WebserviceCallResult{
		Success:         true,
		Provider:        domain.ProviderTaecel,
		TransID:         statusResp.Data.TransID,
		Folio:           statusResp.Data.Folio,
		Amount:          monto,
		Carrier:         statusResp.Data.Carrier,
		DateStr:         statusResp.Data.Fecha,
		FinalBalanceStr: statusResp.Data.SaldoFinal,
		TimeoutMs:       timeoutMs,
		IP:              statusResp.Data.IP,
		Note:            statusResp.Data.Nota,
	}, nil
}

func productCodeFor(st domain.ServiceType) string {
	switch st {
	case domain.ServiceELIOT:
		return "ELIOT"
	default:
		return "GPS"
	}
}

// post issues one form-encoded request and decodes the JSON envelope into out.
// HTTP 403 is terminal (bad key/nip); HTTP >= 500 is an unavailable error,
// which the pipeline runner's retry loop retries up to its MaxAttempts (this
// client makes a single attempt and classifies the error)
func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("key", c.opts.Key)
	form.Set("nip", c.opts.NIP)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return perr.ProviderTransportf("taecel: build request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return perr.ProviderTransportf("taecel: %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("latency", time.Since(start)).Msg("taecel http response")

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return perr.ProviderTransportf("taecel: read body %s: %v", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return perr.ProviderCredentialsf("taecel: %s: credentials rejected", path)
	case resp.StatusCode >= http.StatusInternalServerError:
		return perr.Unavailablef("taecel: %s: server error %d", path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return perr.ProviderDomainf("taecel: %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return perr.ProviderDomainf("taecel: %s: decode response: %v", path, err)
	}
	return nil
}

var _ domain.ProviderClient = (*Client)(nil)
