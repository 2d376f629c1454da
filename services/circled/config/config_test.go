package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "circled.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/circled
environment: dev
tls:
  allow_insecure: true
appraisal:
  values:
    example.com: "1000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, defaultListen, cfg.ListenAddress)
	require.Equal(t, "static", cfg.Appraisal.Source)
	require.Equal(t, "sqlite", cfg.Appraisal.Driver)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 50, cfg.RateLimit.Burst)
	require.Equal(t, 256, cfg.Stream.Buffer)
	require.Equal(t, filepath.Join("/var/lib/circled", "reports"), cfg.ReportDir)
	require.Empty(t, cfg.HealthListen)
	require.False(t, cfg.Auth.Enabled())
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("CIRCLE_ENV", "")
	cases := map[string]string{
		"missing data dir": "tls: {allow_insecure: true}\nappraisal: {values: {a.com: '1'}}\n",
		"tls half set":     "data_dir: d\ntls: {cert: c.pem}\nappraisal: {values: {a.com: '1'}}\n",
		"tls required":     "data_dir: d\nappraisal: {values: {a.com: '1'}}\n",
		"empty static":     "data_dir: d\ntls: {allow_insecure: true}\n",
		"sql without dsn":  "data_dir: d\ntls: {allow_insecure: true}\nappraisal: {source: sql}\n",
		"bad driver":       "data_dir: d\ntls: {allow_insecure: true}\nappraisal: {source: sql, dsn: x, driver: mysql}\n",
		"unknown source":   "data_dir: d\ntls: {allow_insecure: true}\nappraisal: {source: chainlink}\n",
		"bad sample ratio": "data_dir: d\ntls: {allow_insecure: true}\nappraisal: {values: {a.com: '1'}}\ntelemetry: {sample_ratio: 2}\n",
		"unknown key":      "data_dir: d\nlisten_addr: ':1'\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
	_, err := Load("")
	require.Error(t, err)
}

func TestHeaderIdentityRestrictedToDev(t *testing.T) {
	t.Setenv("CIRCLE_ENV", "")
	base := "data_dir: d\ntls: {allow_insecure: true}\nappraisal: {values: {a.com: '1'}}\n"

	_, err := Load(writeConfig(t, base))
	require.ErrorContains(t, err, "hmac_secret")
	_, err = Load(writeConfig(t, base+"environment: prod\n"))
	require.ErrorContains(t, err, "hmac_secret")

	cfg, err := Load(writeConfig(t, base+"environment: DEV\n"))
	require.NoError(t, err)
	require.True(t, cfg.IsDev())
	require.False(t, cfg.Auth.Enabled())

	cfg, err = Load(writeConfig(t, base+"environment: prod\nauth: {hmac_secret: k}\n"))
	require.NoError(t, err)
	require.True(t, cfg.Auth.Enabled())

	t.Setenv("CIRCLE_ENV", "dev")
	cfg, err = Load(writeConfig(t, base))
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.Environment)
}

func TestLoadSQLAppraisal(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
data_dir: ./data
tls: {allow_insecure: true}
auth: {hmac_secret: " s3cret ", issuer: circlefi}
appraisal: {source: SQL, driver: Postgres, dsn: "postgres://localhost/circle"}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sql", cfg.Appraisal.Source)
	require.Equal(t, "postgres", cfg.Appraisal.Driver)
	require.True(t, cfg.Auth.Enabled())
	require.Equal(t, "s3cret", cfg.Auth.HMACSecret)
}
