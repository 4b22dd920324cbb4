package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// setTLSConfig builds the listener TLS configuration. With a CA file,
// clients must present a certificate signed by it, except that readers
// may go without one when unauthenticated reads are allowed.
func (c *Config) setTLSConfig() error {
	if c.TLSCertFile == "" || c.TLSKeyFile == "" {
		return nil
	}

	cert, err := loadKeyPair(c.TLSCertFile, c.TLSKeyFile)
	if err != nil {
		return err
	}

	c.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if c.TLSCaFile == "" {
		return nil
	}

	pool, err := loadCertPool(c.TLSCaFile)
	if err != nil {
		return err
	}

	c.TLSConfig.ClientCAs = pool
	c.TLSConfig.ClientAuth = tls.RequireAndVerifyClientCert
	if c.AllowUnauthenticatedReads {
		c.TLSConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return nil
}

// clientTLSConfig returns the TLS configuration used to reach a proxy
// backend. An empty caFile means the system roots are trusted, and a
// client certificate is only presented if both certFile and keyFile are
// set.
func clientTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	config := &tls.Config{}

	if caFile != "" {
		pool, err := loadCertPool(caFile)
		if err != nil {
			return nil, err
		}
		config.RootCAs = pool
	}

	if certFile != "" && keyFile != "" {
		cert, err := loadKeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("Error reading CA file %q: %w", caFile, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("No certificates found in CA file %q", caFile)
	}

	return pool, nil
}

func loadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("Error reading certificate/key pair %q, %q: %w",
			certFile, keyFile, err)
	}
	return cert, nil
}
