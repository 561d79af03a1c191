// Package config loads a Scylla Cloud connection bundle: a YAML document
// naming one or more datacenters' TLS parameters plus the client credential
// to present, so a Session can dial a managed cluster without the caller
// hand-assembling a tls.Config per node.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/scylladb/scylla-go-driver/transport"
)

// Datacenter is one entry of a bundle's `datacenters` map: the proxy address
// a node in this DC is actually dialed through, the SNI name to present, and
// the CA that signs the proxy's certificate.
type Datacenter struct {
	Server                   string `yaml:"server"`
	NodeDomain               string `yaml:"nodeDomain"`
	CertificateAuthorityData string `yaml:"certificateAuthorityData"`
	InsecureSkipTLSVerify    bool   `yaml:"insecureSkipTlsVerify"`
}

// AuthInfo is one entry of a bundle's `authInfos` map: the client
// certificate/key pair presented during the TLS handshake.
type AuthInfo struct {
	ClientCertificateData string `yaml:"clientCertificateData"`
	ClientKeyData         string `yaml:"clientKeyData"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
}

// Context binds a datacenter to the auth info used to connect to it.
type Context struct {
	DatacenterName string `yaml:"datacenterName"`
	AuthInfoName   string `yaml:"authInfoName"`
}

// CloudConfig is the parsed form of a Scylla Cloud connection bundle.
type CloudConfig struct {
	Datacenters    map[string]Datacenter `yaml:"datacenters"`
	AuthInfos      map[string]AuthInfo   `yaml:"authInfos"`
	Contexts       map[string]Context    `yaml:"contexts"`
	CurrentContext string                `yaml:"currentContext"`
}

// CloudConfigError reports a malformed or internally inconsistent bundle.
type CloudConfigError struct {
	Reason string
}

func (e *CloudConfigError) Error() string { return fmt.Sprintf("config: cloud config: %s", e.Reason) }

// ParseCloudConfig parses a connection bundle's YAML content.
func ParseCloudConfig(data []byte) (*CloudConfig, error) {
	var cfg CloudConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing cloud config: %w", err)
	}
	if _, ok := cfg.Contexts[cfg.CurrentContext]; !ok {
		return nil, &CloudConfigError{Reason: fmt.Sprintf("current context %q not found", cfg.CurrentContext)}
	}
	return &cfg, nil
}

// currentAuthInfo returns the AuthInfo named by the bundle's current context.
func (c *CloudConfig) currentAuthInfo() (AuthInfo, bool) {
	ctx, ok := c.Contexts[c.CurrentContext]
	if !ok {
		return AuthInfo{}, false
	}
	info, ok := c.AuthInfos[ctx.AuthInfoName]
	return info, ok
}

// Datacenter looks up dc by name, as advertised by a node's data_center
// column in system.local/system.peers.
func (c *CloudConfig) Datacenter(dc string) (Datacenter, bool) {
	d, ok := c.Datacenters[dc]
	return d, ok
}

// MakeTLSConfigForCloudHost builds the tls.Config a Conn should dial proxyAddr
// with to reach hostID in datacenter dc. When dc is not described by the
// bundle it logs a warning and returns (nil, nil) rather than failing the
// connection attempt outright: most such connections will not actually work,
// but a hard failure here would take down the whole topology refresh over a
// single stale or partial bundle.
func MakeTLSConfigForCloudHost(logger transport.Logger, hostID uuid.UUID, dc string, proxyAddr string, cfg *CloudConfig) (*tls.Config, error) {
	if logger == nil {
		logger = transport.DefaultLogger
	}

	datacenter, ok := cfg.Datacenter(dc)
	if !ok {
		logger.Printf("config: datacenter %q of node %s with addr %s not described in cloud config, "+
			"proceeding without SNI; this will most likely result in a non-working connection", dc, hostID, proxyAddr)
		return nil, nil
	}

	authInfo, ok := cfg.currentAuthInfo()
	if !ok {
		return nil, &CloudConfigError{Reason: "current context's auth info not found"}
	}

	pool := x509.NewCertPool()
	ca, err := decodeCert(datacenter.CertificateAuthorityData)
	if err != nil {
		return nil, fmt.Errorf("config: decoding datacenter %q CA: %w", dc, err)
	}
	if !pool.AppendCertsFromPEM(ca) {
		return nil, &CloudConfigError{Reason: fmt.Sprintf("datacenter %q: no certificates found in CA data", dc)}
	}

	tlsCfg := &tls.Config{
		RootCAs:            pool,
		InsecureSkipVerify: datacenter.InsecureSkipTLSVerify,
		ServerName:         datacenter.NodeDomain,
	}

	if authInfo.ClientCertificateData != "" {
		certPEM, err := decodeCert(authInfo.ClientCertificateData)
		if err != nil {
			return nil, fmt.Errorf("config: decoding client certificate: %w", err)
		}
		keyPEM, err := decodeCert(authInfo.ClientKeyData)
		if err != nil {
			return nil, fmt.Errorf("config: decoding client key: %w", err)
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("config: loading client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// decodeCert accepts either raw PEM or base64-encoded PEM, the two forms
// seen in the wild across bundle generators.
func decodeCert(data string) ([]byte, error) {
	if block, _ := decodePEMBlock(data); block {
		return []byte(data), nil
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("neither raw PEM nor valid base64: %w", err)
	}
	return b, nil
}

func decodePEMBlock(data string) (bool, []byte) {
	const pemHeader = "-----BEGIN"
	if len(data) >= len(pemHeader) && data[:len(pemHeader)] == pemHeader {
		return true, []byte(data)
	}
	return false, nil
}

// ConnConfigForHost adapts cfg's base ConnConfig for a node dialed through a
// cloud proxy: it overrides TLSConfig for hostID/dc/proxyAddr and leaves
// every other field (timeouts, authenticator, compression) untouched.
func ConnConfigForHost(base transport.ConnConfig, logger transport.Logger, hostID uuid.UUID, dc, proxyAddr string, cloud *CloudConfig) (transport.ConnConfig, error) {
	tlsCfg, err := MakeTLSConfigForCloudHost(logger, hostID, dc, proxyAddr, cloud)
	if err != nil {
		return transport.ConnConfig{}, err
	}
	base.TLSConfig = tlsCfg
	return base, nil
}

// ProxyAddr splits host's server field into the net.JoinHostPort form a Conn
// dials, defaulting to port 9142 (CQL over TLS) when none is given.
func (d Datacenter) ProxyAddr() string {
	if _, _, err := net.SplitHostPort(d.Server); err == nil {
		return d.Server
	}
	return net.JoinHostPort(d.Server, "9142")
}
