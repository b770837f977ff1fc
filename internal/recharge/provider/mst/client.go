// Package mst implements the MST SOAP provider client (C2): envelopes are
// built by templating, responses parsed with encoding/xml in two passes
// (the outer SOAP envelope, then the XML inside its Body as the result
// payload)
package mst

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/platform/logger"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

const defaultTimeout = 30 * time.Second

// Options configures a Client
type Options struct {
	WSDLURL  string
	User     string
	Password string
	Timeout  time.Duration
}

// Client is the MST SOAP client
type Client struct {
	http *http.Client
	opts Options
	log  logger.Logger
}

func NewClient(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: o.Timeout},
		opts: o,
		log:  *logger.Named("mst"),
	}
}

func (c *Client) Name() domain.ProviderName { return domain.ProviderMST }

var obtenSaldoTpl = template.Must(template.New("obtenSaldo").Parse(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <ObtenSaldo xmlns="http://mst.com.mx/">
      <usuario>{{.User}}</usuario>
      <password>{{.Password}}</password>
    </ObtenSaldo>
  </soap:Body>
</soap:Envelope>`))

var recargaTpl = template.Must(template.New("recarga").Parse(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <{{.Operation}} xmlns="http://mst.com.mx/">
      <usuario>{{.User}}</usuario>
      <password>{{.Password}}</password>
      <telefono>{{.Sim}}</telefono>
      <monto>{{.Amount}}</monto>
      <paquete>{{.PackageCode}}</paquete>
    </{{.Operation}}>
  </soap:Body>
</soap:Envelope>`))

// soapEnvelope unwraps the outer SOAP body; Body.Inner carries the raw
// inner XML, whose child elements are the result fields. Escaped XML text
// inside the body is not unescaped
type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// mstResult is the decoded inner payload for both ObtenSaldo and
// RecargaEWS/Paquetes responses
type mstResult struct {
	Saldo    string `xml:"Saldo"`
	Folio    string `xml:"Folio"`
	Cantidad string `xml:"Cantidad"`
	Carrier  string `xml:"Carrier"`
	Fecha    string `xml:"Fecha"`
	Error    string `xml:"Error"`
}

func (c *Client) Balance(ctx context.Context) (domain.ProviderBalance, error) {
	var buf bytes.Buffer
	if err := obtenSaldoTpl.Execute(&buf, c.opts); err != nil {
		return domain.ProviderBalance{}, perr.Internalf("mst: render ObtenSaldo: %v", err)
	}

	result, err := c.call(ctx, "ObtenSaldo", buf.String())
	if err != nil {
		return domain.ProviderBalance{}, err
	}
	if result.Error != "" {
		return domain.ProviderBalance{Name: domain.ProviderMST, Available: false}, nil
	}

	amt, err := decimal.NewFromString(result.Saldo)
	if err != nil {
		return domain.ProviderBalance{}, perr.ProviderDomainf("mst: parse saldo %q: %v", result.Saldo, err)
	}
	bal, _ := amt.Float64()
	return domain.ProviderBalance{Name: domain.ProviderMST, Balance: bal, Available: true}, nil
}

func (c *Client) Recharge(ctx context.Context, req domain.RechargeRequest) (domain.WebserviceCallResult, error) {
	op := "RecargaEWS"
	if req.PackageCode != "" {
		op = "Paquetes"
	}

	data := struct {
		Operation   string
		User        string
		Password    string
		Sim         string
		Amount      string
		PackageCode string
	}{
		Operation:   op,
		User:        c.opts.User,
		Password:    c.opts.Password,
		Sim:         req.Sim,
		Amount:      req.Amount.StringFixed(2),
		PackageCode: req.PackageCode,
	}

	var buf bytes.Buffer
	if err := recargaTpl.Execute(&buf, data); err != nil {
		return domain.WebserviceCallResult{}, perr.Internalf("mst: render %s: %v", op, err)
	}

	result, err := c.call(ctx, op, buf.String())
	if err != nil {
		return domain.WebserviceCallResult{}, err
	}
	if result.Error != "" {
		return domain.WebserviceCallResult{}, perr.ProviderDomainf("mst: %s: %s", op, result.Error)
	}
	if result.Folio == "" || result.Cantidad == "" {
		return domain.WebserviceCallResult{}, perr.ProviderDomainf("mst: %s: missing Folio/Cantidad in response", op)
	}

	cantidad, _ := decimal.NewFromString(result.Cantidad)
	return domain.WebserviceCallResult{
		Success:  true,
		Provider: domain.ProviderMST,
		Folio:    result.Folio,
		Amount:   cantidad,
		Carrier:  result.Carrier,
		DateStr:  result.Fecha,
	}, nil
}

// call POSTs a SOAP envelope and unwraps the nested response payload: the
// outer envelope is decoded first, then the inner XML of its Body is
// unmarshaled a second time as the result
func (c *Client) call(ctx context.Context, soapAction, envelope string) (mstResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.WSDLURL, bytes.NewBufferString(envelope))
	if err != nil {
		return mstResult{}, perr.ProviderTransportf("mst: build request: %v", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://mst.com.mx/"+soapAction)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return mstResult{}, perr.ProviderTransportf("mst: %s: %v", soapAction, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug().Str("action", soapAction).Int("status", resp.StatusCode).Dur("latency", time.Since(start)).Msg("mst soap response")

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return mstResult{}, perr.ProviderTransportf("mst: %s: read body: %v", soapAction, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return mstResult{}, perr.Unavailablef("mst: %s: server error %d", soapAction, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return mstResult{}, perr.ProviderCredentialsf("mst: %s: credentials rejected", soapAction)
	}

	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return mstResult{}, perr.ProviderDomainf("mst: %s: decode envelope: %v", soapAction, err)
	}

	// the Body's children are the result fields; wrap them in one root
	// element so they decode as children of mstResult
	payload := append([]byte("<payload>"), env.Body.Inner...)
	payload = append(payload, "</payload>"...)

	var result mstResult
	if err := xml.Unmarshal(payload, &result); err != nil {
		return mstResult{}, perr.ProviderDomainf("mst: %s: decode inner payload: %v", soapAction, err)
	}
	return result, nil
}

var _ domain.ProviderClient = (*Client)(nil)
