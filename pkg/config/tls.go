package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientTLSConfig configures TLS towards the guardrails endpoint. The zero
// value keeps the system defaults.
type ClientTLSConfig struct {
	CACert              string `mapstructure:"ca_cert"`
	ClientCert          string `mapstructure:"client_cert"`
	ClientKey           string `mapstructure:"client_key"`
	DisableSystemCAPool bool   `mapstructure:"disable_system_ca_pool"`
	AllowInsecure       bool   `mapstructure:"allow_insecure_connections"`
	MaxVersion          string `mapstructure:"max_version"`
}

func (c ClientTLSConfig) IsZero() bool {
	return c == ClientTLSConfig{}
}

// BuildClientTLSConfig returns nil for the zero config so callers fall back
// to the HTTP client's defaults.
func BuildClientTLSConfig(cfg ClientTLSConfig) (*tls.Config, error) {
	if cfg.IsZero() {
		return nil, nil
	}

	var certificates []tls.Certificate
	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		if cfg.ClientCert == "" || cfg.ClientKey == "" {
			return nil, &ConfigError{Key: "tls", Reason: "client_cert and client_key must be set together"}
		}
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key: %w", err)
		}
		certificates = append(certificates, cert)
	}

	var rootCAs *x509.CertPool
	if cfg.DisableSystemCAPool {
		rootCAs = x509.NewCertPool()
	} else {
		var err error
		rootCAs, err = x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system CA pool: %w", err)
		}
	}

	if cfg.CACert != "" {
		caBytes, err := os.ReadFile(cfg.CACert) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		if ok := rootCAs.AppendCertsFromPEM(caBytes); !ok {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACert)
		}
	}

	maxVersion, err := tlsVersion(cfg.MaxVersion)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		RootCAs:            rootCAs,
		Certificates:       certificates,
		InsecureSkipVerify: cfg.AllowInsecure, // #nosec G402
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         maxVersion,
	}, nil
}

func tlsVersion(version string) (uint16, error) {
	switch version {
	case "TLS12":
		return tls.VersionTLS12, nil
	case "", "TLS13":
		return tls.VersionTLS13, nil
	default:
		return 0, &ConfigError{Key: "tls.max_version", Reason: fmt.Sprintf("unsupported version %q", version)}
	}
}
