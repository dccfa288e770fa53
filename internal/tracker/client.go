package tracker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/prometheus/common/expfmt"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/obsidianstack/flowcounters/internal/config"
	"github.com/obsidianstack/flowcounters/internal/stats"
)

// Client fetches job counters from the job-tracking service. It implements
// stats.JobSource and is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
	inflight singleflight.Group
}

var _ stats.JobSource = (*Client)(nil)

// New returns a Client for cfg. The HTTP client is built once and reused.
func New(cfg config.TrackerConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracker: endpoint is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	hc, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http:     hc,
		logger:   logger,
	}, nil
}

// JobCounters fetches the current counters of jobID.
func (c *Client) JobCounters(jobID string) (*stats.Registry, error) {
	v, err, _ := c.inflight.Do(jobID, func() (any, error) {
		return c.fetch(jobID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*stats.Registry), nil
}

// Job returns a handle for a single job, for reports that are not tied to a
// configured run.
func (c *Client) Job(jobID string) stats.BackendJob {
	return &stats.BackendStage{StageID: jobID, StageName: jobID, Job: jobID, Jobs: c}
}

func (c *Client) fetch(jobID string) (*stats.Registry, error) {
	u := c.endpoint + "/jobs/" + url.PathEscape(jobID) + "/counters"
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: job %s: http get: %w", jobID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("tracker: job %s: %w", jobID, stats.ErrEvicted)
	default:
		return nil, fmt.Errorf("tracker: job %s: unexpected status %d", jobID, resp.StatusCode)
	}

	return c.decode(jobID, resp.Body)
}

// decode reads an exposition body into a registry. The text parser stops at
// the first bad line; everything decoded before it is kept and the loss is
// logged.
func (c *Client) decode(jobID string, body io.Reader) (*stats.Registry, error) {
	var parser expfmt.TextParser
	mfs, parseErr := parser.TextToMetricFamilies(body)
	if parseErr != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("tracker: job %s: decode counters: %w", jobID, parseErr)
	}
	reg, err := stats.RegistryFromFamilies(mfs)
	if err = multierr.Append(parseErr, err); err != nil {
		c.logger.Warn("tracker: dropped part of the counter exposition", "job", jobID, "err", err)
	}
	return reg, nil
}

// credentials returns the request decorator for the configured auth mode, or
// nil when requests go out without credentials. Secrets are resolved once.
func credentials(auth config.AuthConfig) func(*http.Request) {
	switch auth.Mode {
	case "apikey":
		header, key := auth.Header, auth.Key()
		return func(r *http.Request) { r.Header.Set(header, key) }
	case "bearer":
		value := "Bearer " + auth.Token()
		return func(r *http.Request) { r.Header.Set("Authorization", value) }
	case "basic":
		user, pass := auth.Username, auth.Password()
		return func(r *http.Request) { r.SetBasicAuth(user, pass) }
	}
	return nil
}

type credentialTransport struct {
	next  http.RoundTripper
	apply func(*http.Request)
}

func (t credentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	t.apply(req)
	return t.next.RoundTrip(req)
}

func newHTTPClient(cfg config.TrackerConfig) (*http.Client, error) {
	tlsCfg, err := clientTLS(cfg)
	if err != nil {
		return nil, err
	}
	var rt http.RoundTripper = &http.Transport{TLSClientConfig: tlsCfg}
	if apply := credentials(cfg.Auth); apply != nil {
		rt = credentialTransport{next: rt, apply: apply}
	}
	return &http.Client{Transport: rt, Timeout: cfg.Timeout}, nil
}

// clientTLS returns the TLS settings for tracker requests. In mtls mode the
// client presents a certificate and may pin the tracker's CA bundle.
func clientTLS(cfg config.TrackerConfig) (*tls.Config, error) {
	out := &tls.Config{InsecureSkipVerify: cfg.TLS.InsecureSkipVerify} //nolint:gosec // opt-in via config
	if cfg.Auth.Mode != "mtls" {
		return out, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.Auth.CertFile, cfg.Auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tracker: client certificate: %w", err)
	}
	out.Certificates = []tls.Certificate{cert}
	if cfg.Auth.CAFile == "" {
		return out, nil
	}

	bundle, err := os.ReadFile(cfg.Auth.CAFile)
	if err != nil {
		return nil, fmt.Errorf("tracker: ca bundle: %w", err)
	}
	out.RootCAs = x509.NewCertPool()
	if !out.RootCAs.AppendCertsFromPEM(bundle) {
		return nil, fmt.Errorf("tracker: ca bundle %q holds no certificates", cfg.Auth.CAFile)
	}
	return out, nil
}
