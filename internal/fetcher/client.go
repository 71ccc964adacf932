package fetcher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/pkg/types"
)

// PatientsPath is the collection endpoint relative to the API base URL.
const PatientsPath = "/patients"

// PageFetcher retrieves one page of patients.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, limit int) (*types.Page, error)
}

// Func adapts a plain function to PageFetcher.
type Func func(ctx context.Context, page, limit int) (*types.Page, error)

func (f Func) FetchPage(ctx context.Context, page, limit int) (*types.Page, error) {
	return f(ctx, page, limit)
}

// Client fetches pages over HTTP.
type Client struct {
	http *resty.Client
	log  *zap.Logger
}

// New returns a Client for the API described by cfg.
func New(cfg config.APIConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{http: NewHTTPClient(cfg, log), log: log}
}

// NewHTTPClient builds the resty client shared by the fetcher and the
// submitter: base URL, timeout, auth headers and TLS settings from cfg.
// Automatic retries stay disabled.
func NewHTTPClient(cfg config.APIConfig, log *zap.Logger) *resty.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	transport := &authRoundTripper{
		base: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsCfg,
		},
		auth: cfg.Auth,
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTransport(transport).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if log != nil {
		c.SetLogger(log.Sugar())
	}
	return c
}

// FetchPage requests GET /patients?page=&limit=. Non-2xx responses and
// transport failures are returned as *Error.
func (c *Client) FetchPage(ctx context.Context, page, limit int) (*types.Page, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(limit),
		}).
		Get(PatientsPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Err: err}
	}

	if resp.IsError() || resp.StatusCode() >= 300 {
		fe := Classify(resp.StatusCode(), resp.Body(), resp.Header())
		c.log.Debug("fetcher: page request failed",
			zap.Int("page", page),
			zap.Int("status", fe.StatusCode),
			zap.String("message", fe.Message),
		)
		return nil, fe
	}

	var out types.Page
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &Error{Err: fmt.Errorf("decode page %d: %w", page, err)}
	}
	normalize(&out, page, limit)

	c.log.Debug("fetcher: page received",
		zap.Int("page", out.Pagination.Page),
		zap.Int("records", len(out.Data)),
		zap.Int("total", out.Pagination.Total),
	)
	return &out, nil
}

// normalize fills pagination fields the server left out.
func normalize(p *types.Page, page, limit int) {
	if p.Data == nil {
		p.Data = []types.Patient{}
	}
	if p.Pagination.Page == 0 {
		p.Pagination.Page = page
	}
	if p.Pagination.Limit == 0 {
		p.Pagination.Limit = limit
	}
	if p.Pagination.TotalPages == 0 {
		p.Pagination.TotalPages = p.Pagination.PageCount()
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		header := t.auth.Header
		if header == "" {
			header = config.DefaultAPIKeyHeader
		}
		req = req.Clone(req.Context())
		req.Header.Set(header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	}
	return t.base.RoundTrip(req)
}
