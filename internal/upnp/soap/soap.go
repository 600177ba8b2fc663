// Package soap executes UPnP control actions against a device's control
// endpoint and flattens XML responses into key/value results.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/castpoint/castpoint/pkg/cast"
)

// ResultKey is set to ResultOK when a success response carries no
// output arguments.
const (
	ResultKey = "Result"
	ResultOK  = "OK"
)

// Executor issues SOAP actions against one service control endpoint.
type Executor struct {
	endpoint string
	service  string
	client   *http.Client
	log      *zap.Logger
}

// NewExecutor creates an executor for a control URL and service type.
func NewExecutor(endpoint string, service string, client *http.Client, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		endpoint: endpoint,
		service:  service,
		client:   client,
		log:      log,
	}
}

// Endpoint returns the control URL the executor posts to.
func (e *Executor) Endpoint() string {
	return e.endpoint
}

// Execute sends one action and parses the response into a flat result map.
// Transport failures, device faults and malformed responses all surface as
// typed errors; the caller decides presentation.
func (e *Executor) Execute(ctx context.Context, action string, instanceID string, args map[string]string) (map[string]string, error) {
	envelope := BuildEnvelope(action, e.service, instanceID, args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, cast.WrapErr(cast.CategoryInvalidParameter, "build soap request", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, e.service, action))
	req.Close = true

	e.log.Debug("soap request",
		zap.String("endpoint", e.endpoint),
		zap.String("action", action),
		zap.String("service", e.service),
		zap.String("instance_id", instanceID))

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, cast.WrapErr(cast.CategoryNetworkTimeout, fmt.Sprintf("%s timed out", action), err)
		}
		return nil, cast.WrapErr(cast.CategoryNetwork, fmt.Sprintf("%s request failed", action), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cast.WrapErr(cast.CategoryCommunication, "read soap response", err)
	}

	if resp.StatusCode >= 400 {
		// A fault document explains the failure better than the status line.
		if _, perr := ParseResponse(action, body); perr != nil && cast.CategoryOf(perr) == cast.CategoryControl {
			return nil, perr
		}
		return nil, cast.Errf(cast.CategoryDevice, "%s rejected: %s", action, resp.Status)
	}
	result, perr := ParseResponse(action, body)
	if perr != nil {
		return nil, perr
	}
	e.log.Debug("soap response", zap.String("action", action), zap.Int("keys", len(result)))
	return result, nil
}

// Release drops pooled connections for this endpoint. Idempotent.
func (e *Executor) Release() {
	e.client.CloseIdleConnections()
}

// BuildEnvelope serializes a SOAP action envelope. Arguments are emitted in
// sorted key order so envelopes are deterministic.
func BuildEnvelope(action string, service string, instanceID string, args map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString(`<s:Body><u:` + action + ` xmlns:u="` + service + `">`)
	buf.WriteString(`<InstanceID>` + xmlEscape(instanceID) + `</InstanceID>`)
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString("<" + k + ">" + xmlEscape(args[k]) + "</" + k + ">")
	}
	buf.WriteString(`</u:` + action + `></s:Body></s:Envelope>`)
	return buf.Bytes()
}

// ParseResponse flattens a SOAP response body. A fault document yields a
// typed error carrying the device's error code and description.
func ParseResponse(action string, body []byte) (map[string]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	responseElem := action + "Response"

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cast.WrapErr(cast.CategoryParsing, "malformed soap response", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "Fault":
			return nil, parseFault(decoder, start)
		case responseElem:
			return parseArguments(decoder, start)
		}
	}
	return nil, cast.Errf(cast.CategoryParsing, "no %s element in response", responseElem)
}

type fault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail      struct {
		UPnPError struct {
			Code        string `xml:"errorCode"`
			Description string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

func parseFault(decoder *xml.Decoder, start xml.StartElement) error {
	var f fault
	if err := decoder.DecodeElement(&f, &start); err != nil {
		return cast.WrapErr(cast.CategoryParsing, "malformed soap fault", err)
	}
	msg := f.Detail.UPnPError.Description
	if msg == "" {
		msg = f.FaultString
	}
	if msg == "" {
		msg = "device fault"
	}
	if f.Detail.UPnPError.Code != "" {
		return cast.Errf(cast.CategoryControl, "%s (code %s)", msg, f.Detail.UPnPError.Code)
	}
	return cast.Errf(cast.CategoryControl, "%s", msg)
}

func parseArguments(decoder *xml.Decoder, start xml.StartElement) (map[string]string, error) {
	result := map[string]string{}
	depth := 1
	current := ""
	var text strings.Builder
	for depth > 0 {
		tok, err := decoder.Token()
		if err != nil {
			return nil, cast.WrapErr(cast.CategoryParsing, "malformed soap response", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				current = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth == 2 && current != "" {
				text.Write(t)
			}
		case xml.EndElement:
			depth--
			if depth == 1 && current != "" {
				result[current] = strings.TrimSpace(text.String())
				current = ""
			}
		}
	}
	if len(result) == 0 {
		result[ResultKey] = ResultOK
	}
	return result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func xmlEscape(s string) string {
	repl := strings.NewReplacer(
		`&`, "&amp;",
		`<`, "&lt;",
		`>`, "&gt;",
		`"`, "&quot;",
		`'`, "&apos;",
	)
	return repl.Replace(s)
}
