package revocation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/sealtrust/certmodel"
)

// maxClockSkew tolerates responders whose clock runs slightly ahead.
const maxClockSkew = 5 * time.Minute

// OnlineChecker queries OCSP responders and CRL distribution points named
// in the certificate.
type OnlineChecker struct {
	fetcher    *Fetcher
	clock      clockwork.Clock
	preferOCSP bool
	timeout    time.Duration
	logger     *zap.Logger
}

// OnlineOption configures an OnlineChecker.
type OnlineOption func(*OnlineChecker)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) OnlineOption {
	return func(c *OnlineChecker) {
		c.fetcher = NewFetcher(c.fetcher.config, client)
	}
}

// WithCRLFirst consults CRL distribution points before OCSP.
func WithCRLFirst() OnlineOption {
	return func(c *OnlineChecker) {
		c.preferOCSP = false
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OnlineOption {
	return func(c *OnlineChecker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOnlineChecker creates a checker that prefers OCSP. The config timeout
// bounds each whole check, retries included.
func NewOnlineChecker(config *FetcherConfig, opts ...OnlineOption) *OnlineChecker {
	fetcher := NewFetcher(config, nil)
	c := &OnlineChecker{
		fetcher:    fetcher,
		clock:      fetcher.clock,
		preferOCSP: true,
		timeout:    fetcher.config.Timeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check implements Checker.
func (c *OnlineChecker) Check(ctx context.Context, cert, issuer *certmodel.Certificate) Result {
	if issuer == nil {
		return Result{Status: StatusUnknown, Source: SourceNone, Err: ErrNoIssuer}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	first, second := c.checkOCSP, c.checkCRL
	if !c.preferOCSP {
		first, second = c.checkCRL, c.checkOCSP
	}
	res := first(ctx, cert, issuer)
	if res.Decisive() {
		return res
	}
	fallback := second(ctx, cert, issuer)
	if fallback.Decisive() {
		return fallback
	}

	out := Result{Status: StatusUnknown, Source: res.Source, Err: errors.Join(res.Err, fallback.Err)}
	c.logger.Debug("Revocation status unknown",
		zap.String("subject", cert.Subject.String()),
		zap.Error(out.Err))
	return out
}

func (c *OnlineChecker) checkOCSP(ctx context.Context, cert, issuer *certmodel.Certificate) Result {
	if len(cert.OCSPServers) == 0 {
		return Result{Status: StatusUnknown, Source: SourceOCSP, Err: ErrNoOCSPServers}
	}
	request, err := ocsp.CreateRequest(cert.X509(), issuer.X509(), nil)
	if err != nil {
		return Result{Status: StatusUnknown, Source: SourceOCSP, Err: fmt.Errorf("failed to create OCSP request: %w", err)}
	}

	var errs []error
	for _, server := range cert.OCSPServers {
		data, err := c.fetcher.FetchOCSP(ctx, server, request)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := ocsp.ParseResponseForCert(data, cert.X509(), issuer.X509())
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrOCSPParseFailed, server, err))
			continue
		}
		now := c.clock.Now()
		if resp.ThisUpdate.After(now.Add(maxClockSkew)) || (!resp.NextUpdate.IsZero() && now.After(resp.NextUpdate)) {
			errs = append(errs, fmt.Errorf("%w: OCSP response from %s", ErrStale, server))
			continue
		}
		switch resp.Status {
		case ocsp.Good:
			return Result{Status: StatusGood, Source: SourceOCSP}
		case ocsp.Revoked:
			return Result{
				Status:    StatusRevoked,
				Source:    SourceOCSP,
				RevokedAt: resp.RevokedAt.UTC(),
				Reason:    ReasonName(resp.RevocationReason),
			}
		default:
			errs = append(errs, fmt.Errorf("responder %s does not know the certificate", server))
		}
	}
	return Result{Status: StatusUnknown, Source: SourceOCSP, Err: errors.Join(errs...)}
}

func (c *OnlineChecker) checkCRL(ctx context.Context, cert, issuer *certmodel.Certificate) Result {
	if len(cert.CRLDistributionPoints) == 0 {
		return Result{Status: StatusUnknown, Source: SourceCRL, Err: ErrNoDistributionPoints}
	}

	var errs []error
	for _, dp := range cert.CRLDistributionPoints {
		data, err := c.fetcher.Fetch(ctx, dp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		crl, err := ParseCRL(data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res := evaluateCRL(crl, cert, issuer, c.clock.Now())
		if res.Decisive() {
			return res
		}
		errs = append(errs, res.Err)
	}
	return Result{Status: StatusUnknown, Source: SourceCRL, Err: errors.Join(errs...)}
}
