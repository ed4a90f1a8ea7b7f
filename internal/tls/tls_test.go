package tls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sessionkeeper/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	c, err := Setup(nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = Setup(&config.TLSConfig{Enabled: false, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetup_AutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	c, err := Setup(&config.TLSConfig{
		Enabled: true, Dir: dir, AutoGenerate: true,
		Hosts: []string{"keeper.local", "10.1.2.3"}, MinVersion: "1.3",
	})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, uint16(0x0304), c.MinVersion)

	cert, err := c.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"keeper.local"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.1.2.3", leaf.IPAddresses[0].String())

	info, err := os.Stat(filepath.Join(dir, keyName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSetup_ReusesExistingPair(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true}
	_, err := Setup(cfg)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, certName))
	require.NoError(t, err)

	_, err = Setup(cfg)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, certName))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSetup_ExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.pem")
	keyPath := filepath.Join(dir, "server.key")
	require.NoError(t, GenerateSelfSigned(CertRequest{
		NotAfter: time.Now().Add(time.Hour), CertPath: certPath, KeyPath: keyPath,
	}))

	c, err := Setup(&config.TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0303), c.MinVersion)
}

func TestSetup_Errors(t *testing.T) {
	_, err := Setup(&config.TLSConfig{Enabled: true})
	assert.Error(t, err)

	_, err = Setup(&config.TLSConfig{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err, "missing pair without auto_generate")

	_, err = Setup(&config.TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"})
	assert.Error(t, err)
}

func TestGenerateSelfSigned_DefaultHosts(t *testing.T) {
	dir := t.TempDir()
	req := CertRequest{
		NotAfter: time.Now().Add(24 * time.Hour),
		CertPath: filepath.Join(dir, "c.pem"),
		KeyPath:  filepath.Join(dir, "k.pem"),
	}
	require.NoError(t, GenerateSelfSigned(req))

	raw, err := os.ReadFile(req.CertPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "localhost", leaf.Subject.CommonName)
	assert.Contains(t, leaf.DNSNames, "localhost")
}
