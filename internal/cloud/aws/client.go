// Package aws is a small signed client for the ECS, EC2, ELBv2, CloudWatch
// Logs and STS APIs.
package aws

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/oneops/oneops/internal/sigv4"
)

const (
	jsonContentType  = "application/x-amz-json-1.1"
	queryContentType = "application/x-www-form-urlencoded; charset=utf-8"
	defaultTimeout   = 60 * time.Second
)

type service struct {
	// endpoint prefix, also the signing name unless signingName is set
	name        string
	signingName string
}

var (
	serviceECS   = service{name: "ecs"}
	serviceEC2   = service{name: "ec2"}
	serviceELBv2 = service{name: "elasticloadbalancing"}
	serviceLogs  = service{name: "logs"}
	serviceSTS   = service{name: "sts"}
)

func (s service) signing() string {
	if s.signingName != "" {
		return s.signingName
	}
	return s.name
}

// Client talks to AWS in a single region.
type Client struct {
	signer   *sigv4.Signer
	region   string
	endpoint string
	base     http.RoundTripper
	timeout  time.Duration

	mu      sync.Mutex
	clients map[string]*resty.Client
}

// Option customises a Client.
type Option func(*Client)

// WithEndpoint sends every service to baseURL (LocalStack, tests).
func WithEndpoint(baseURL string) Option {
	return func(c *Client) {
		c.endpoint = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithTransport sets the transport underneath the signer.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.base = rt
		}
	}
}

// WithTimeout bounds each API call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New returns a client for region that signs with signer.
func New(signer *sigv4.Signer, region string, opts ...Option) (*Client, error) {
	if signer == nil {
		return nil, fmt.Errorf("aws: signer required")
	}
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, fmt.Errorf("aws: region required")
	}
	c := &Client{
		signer:  signer,
		region:  region,
		base:    http.DefaultTransport,
		timeout: defaultTimeout,
		clients: make(map[string]*resty.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Region returns the region the client is bound to.
func (c *Client) Region() string {
	return c.region
}

// Close releases idle connections of every service client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, rc := range c.clients {
		_ = rc.Close()
		delete(c.clients, name)
	}
	return nil
}

func (c *Client) restyFor(svc service) *resty.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.clients[svc.name]; ok {
		return rc
	}
	rc := resty.New().
		SetTransport(c.signer.Transport(c.base, c.region, svc.signing())).
		SetTimeout(c.timeout).
		SetRetryCount(0)
	c.clients[svc.name] = rc
	return rc
}

func (c *Client) endpointFor(svc service) string {
	if c.endpoint != "" {
		return c.endpoint + "/"
	}
	return fmt.Sprintf("https://%s.%s.amazonaws.com/", svc.name, c.region)
}

// callJSON performs an awsJson1_1 call: POST / with X-Amz-Target.
func (c *Client) callJSON(ctx context.Context, svc service, targetPrefix, operation string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s %s: encode request: %w", svc.name, operation, err)
	}
	resp, err := c.restyFor(svc).R().
		SetContext(ctx).
		SetHeader("Content-Type", jsonContentType).
		SetHeader("X-Amz-Target", targetPrefix+"."+operation).
		SetBody(payload).
		Post(c.endpointFor(svc))
	if err != nil {
		return fmt.Errorf("%s %s: %w", svc.name, operation, err)
	}
	body := resp.Bytes()
	if resp.IsError() {
		return jsonError(svc.name, operation, resp.StatusCode(), body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", svc.name, operation, err)
	}
	return nil
}

// callQuery performs an AWS Query protocol call with an XML response.
func (c *Client) callQuery(ctx context.Context, svc service, version, action string, params url.Values, out any) error {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("Action", action)
	form.Set("Version", version)
	resp, err := c.restyFor(svc).R().
		SetContext(ctx).
		SetHeader("Content-Type", queryContentType).
		SetBody(form.Encode()).
		Post(c.endpointFor(svc))
	if err != nil {
		return fmt.Errorf("%s %s: %w", svc.name, action, err)
	}
	body := resp.Bytes()
	if resp.IsError() {
		return xmlError(svc.name, action, resp.StatusCode(), body)
	}
	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", svc.name, action, err)
	}
	return nil
}

func jsonError(svc, op string, status int, body []byte) error {
	var payload struct {
		Type     string `json:"__type"`
		Message  string `json:"message"`
		MessageC string `json:"Message"`
	}
	_ = json.Unmarshal(body, &payload)
	code := payload.Type
	if idx := strings.LastIndex(code, "#"); idx >= 0 {
		code = code[idx+1:]
	}
	msg := payload.Message
	if msg == "" {
		msg = payload.MessageC
	}
	if code == "" {
		code = http.StatusText(status)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &APIError{Service: svc, Operation: op, Status: status, Code: code, Message: msg}
}

// xmlError understands both the ELBv2/STS <ErrorResponse> and the EC2
// <Response><Errors> shapes.
func xmlError(svc, op string, status int, body []byte) error {
	var payload struct {
		Error  queryError   `xml:"Error"`
		Errors []queryError `xml:"Errors>Error"`
	}
	_ = xml.Unmarshal(body, &payload)
	e := payload.Error
	if e.Code == "" && len(payload.Errors) > 0 {
		e = payload.Errors[0]
	}
	if e.Code == "" {
		e.Code = http.StatusText(status)
		e.Message = strings.TrimSpace(string(body))
	}
	return &APIError{Service: svc, Operation: op, Status: status, Code: e.Code, Message: e.Message}
}

type queryError struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// addList adds prefix.1, prefix.2, ... entries.
func addList(params url.Values, prefix string, values []string) {
	for i, v := range values {
		params.Set(fmt.Sprintf("%s.%d", prefix, i+1), v)
	}
}
