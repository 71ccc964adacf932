package fetcher

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/patientwatch/patientwatch/internal/config"
)

// Certificate states reported by CheckCertificate.
const (
	CertValid       = "valid"
	CertExpiring    = "expiring"
	CertExpired     = "expired"
	CertUnreachable = "unreachable"
)

// certWarnDays is when a certificate starts to count as expiring.
const certWarnDays = 30

// CertStatus describes the leaf certificate of the patients API.
type CertStatus struct {
	Endpoint string `json:"endpoint"`
	AuthType string `json:"auth_type"`
	Status   string `json:"status"`
	Issuer   string `json:"issuer,omitempty"`
	NotAfter string `json:"not_after,omitempty"` // RFC3339
	DaysLeft int    `json:"days_left"`
}

// CheckCertificate dials the API host and inspects its TLS certificate.
// It returns nil for plain-HTTP base URLs.
func CheckCertificate(ctx context.Context, cfg config.APIConfig) *CertStatus {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{Endpoint: cfg.BaseURL, AuthType: cfg.Auth.Mode}
	if cs.AuthType == "" {
		cs.AuthType = "none"
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = CertUnreachable
		return cs
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		cs.Status = CertUnreachable
		return cs
	}

	leaf := certs[0]
	daysLeft := time.Until(leaf.NotAfter).Hours() / 24
	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = CertExpired
	case daysLeft <= certWarnDays:
		cs.Status = CertExpiring
	default:
		cs.Status = CertValid
	}
	return cs
}
