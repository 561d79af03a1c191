package config

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/scylladb/scylla-go-driver/transport"
)

const testCA = `-----BEGIN CERTIFICATE-----
MIIBhTCCASugAwIBAgIQIaCgG9LW//2G7mqKlTy7/DAKBggqhkjOPQQDAjASMRAw
DgYDVQQKEwdBY21lIENvMB4XDTIzMDEwMTAwMDAwMFoXDTMzMDEwMTAwMDAwMFow
EjEQMA4GA1UEChMHQWNtZSBDbzBZMBMGByqGSM49AgEGCCqGSM49AwEHA0IABJBV
l1ZCdUZlnmE0Mj2a6a1d3d7wB3HgZbK+LnF1WrDcvCqCuCc6KRzIhsnLkvhJcCP1
-----END CERTIFICATE-----`

func sampleConfig() string {
	return `
datacenters:
  dc1:
    server: proxy.example.com:9142
    nodeDomain: cql.dc1.example.com
    certificateAuthorityData: |
      ` + strings.ReplaceAll(testCA, "\n", "\n      ") + `
authInfos:
  default:
    username: scylla
    password: scylla
contexts:
  default:
    datacenterName: dc1
    authInfoName: default
currentContext: default
`
}

func TestParseCloudConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseCloudConfig([]byte(sampleConfig()))
	require.NoError(t, err)
	require.Len(t, cfg.Datacenters, 1)

	dc, ok := cfg.Datacenter("dc1")
	require.True(t, ok)
	require.Equal(t, "proxy.example.com:9142", dc.ProxyAddr())
}

func TestParseCloudConfigMissingContext(t *testing.T) {
	t.Parallel()

	_, err := ParseCloudConfig([]byte(`
datacenters: {}
authInfos: {}
contexts: {}
currentContext: missing
`))
	require.Error(t, err)
	var cloudErr *CloudConfigError
	require.ErrorAs(t, err, &cloudErr)
}

func TestMakeTLSConfigForCloudHostUnknownDatacenter(t *testing.T) {
	t.Parallel()

	cfg, err := ParseCloudConfig([]byte(sampleConfig()))
	require.NoError(t, err)

	tlsCfg, err := MakeTLSConfigForCloudHost(transport.DefaultLogger, uuid.New(), "dc2", "proxy.example.com:9142", cfg)
	require.NoError(t, err)
	require.Nil(t, tlsCfg)
}

func TestDatacenterProxyAddrDefaultsPort(t *testing.T) {
	t.Parallel()

	d := Datacenter{Server: "proxy.example.com"}
	require.Equal(t, "proxy.example.com:9142", d.ProxyAddr())
}
