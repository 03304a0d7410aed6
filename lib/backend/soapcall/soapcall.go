// Package soapcall executes SOAP 1.1 calls. It builds the envelope around an
// XML-marshalled body, posts it through httpcall and turns SOAP faults into
// backend errors.
package soapcall

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"

	"github.com/ValentinKolb/dCall/lib/backend/httpcall"
	"github.com/ValentinKolb/dCall/lib/call"
)

const envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// Fault is a SOAP 1.1 fault
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Actor  string `xml:"faultactor,omitempty"`
	Detail string `xml:"detail,omitempty"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

type envelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	NS      string   `xml:"xmlns:soap,attr"`
	Body    body     `xml:"soap:Body"`
}

type body struct {
	Content any `xml:",any"`
}

type responseEnvelope struct {
	XMLName xml.Name     `xml:"Envelope"`
	Body    responseBody `xml:"Body"`
}

type responseBody struct {
	Fault   *Fault `xml:"Fault"`
	Content []byte `xml:",innerxml"`
}

// Request describes a SOAP call
type Request struct {
	URL    string
	Action string
	Header http.Header
	// Body is marshalled with encoding/xml into the SOAP body
	Body any
}

// Executor posts a SOAP envelope
type Executor struct {
	http *httpcall.Executor
	err  error
}

// New builds the envelope. Marshalling errors are reported by Execute.
func New(client *http.Client, req Request) *Executor {
	data, err := Marshal(req.Body)
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "text/xml; charset=utf-8")
	header.Set("SOAPAction", fmt.Sprintf("%q", req.Action))
	return &Executor{
		http: httpcall.New(client, httpcall.Request{
			Method: http.MethodPost,
			URL:    req.URL,
			Header: header,
			Body:   data,
		}),
		err: err,
	}
}

// NewCall wraps a SOAP request in an envelope. The result value is the inner XML
// of the SOAP body unless a converter is given.
func NewCall(system, method string, client *http.Client, req Request, opts ...call.Option) *call.Envelope {
	return call.New(system, method, New(client, req), opts...)
}

// Marshal wraps v in a SOAP envelope
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(envelope{NS: envelopeNS, Body: body{Content: v}}); err != nil {
		return nil, fmt.Errorf("marshal soap envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// Execute posts the envelope. A fault is reported as *call.BackendError wrapping
// *Fault, also when the server answered with 500 as SOAP 1.1 requires. On success
// the payload body holds the inner XML of the SOAP body.
func (e *Executor) Execute(ctx context.Context) (*call.Payload, error) {
	if e.err != nil {
		return nil, e.err
	}
	payload, err := e.http.Execute(ctx)
	if payload == nil {
		return nil, err
	}

	var resp responseEnvelope
	if xmlErr := xml.Unmarshal(payload.Body, &resp); xmlErr != nil {
		if err != nil {
			return payload, err
		}
		return payload, &call.BackendError{StatusCode: payload.StatusCode, Msg: "invalid soap response", Err: xmlErr}
	}
	if resp.Body.Fault != nil {
		return payload, &call.BackendError{StatusCode: payload.StatusCode, Msg: "soap fault", Err: resp.Body.Fault}
	}
	if err != nil {
		return payload, err
	}
	return &call.Payload{
		StatusCode: payload.StatusCode,
		Body:       bytes.TrimSpace(resp.Body.Content),
		Meta:       payload.Meta,
	}, nil
}

func (e *Executor) Abort() { e.http.Abort() }

// Decoder returns a converter that unmarshals the SOAP body into a new T
func Decoder[T any]() call.Converter {
	return func(p *call.Payload) (any, error) {
		if p == nil {
			return nil, errors.New("empty soap payload")
		}
		var v T
		if err := xml.Unmarshal(p.Body, &v); err != nil {
			return nil, fmt.Errorf("decode soap body: %w", err)
		}
		return v, nil
	}
}
