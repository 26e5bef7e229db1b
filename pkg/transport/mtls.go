// mTLS support for the WebSocket transport: a fleet node agent dials the
// relay presenting an X.509 client certificate and trusting only a shared
// CA. WSServer stores the TLSConfig it is given but does not apply it, and
// the relay listener in cmd/fleetroll serves plain HTTP.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// MTLSConfig names the certificate files ClientTLSConfig loads for a
// WebSocket transport connection.
type MTLSConfig struct {
	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string
	ServerName     string
}

// ClientTLSConfig builds a *tls.Config presenting the node's client
// certificate and trusting only the shared CA.
func ClientTLSConfig(cfg MTLSConfig) (*tls.Config, error) {
	caCert, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert %s", cfg.CACertFile)
	}

	cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client keypair: %w", err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		ServerName:   cfg.ServerName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
