package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigAppliesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("backend: web\n"))
	require.NoError(t, err)

	assert.Equal(t, BackendWeb, cfg.Backend)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1, cfg.Retry.LoginAttempts)
	assert.Equal(t, int32(2), cfg.PriceDecimals())
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, "https://www2.commsec.com.au", cfg.Web.BaseURL)
	assert.True(t, cfg.GoodForDay())
	assert.True(t, cfg.SponsoredSettlement())
}

func TestParseConfigReadsValues(t *testing.T) {
	raw := `
backend: mobile
mobile:
  base_url: http://localhost:9000/svc/
retry:
  max_attempts: 5
  pause: 250ms
web:
  order_form:
    good_for_day: false
transport:
  rate_per_second: 2.5
quotes:
  codes: [ANZ, CBA]
`
	cfg, err := ParseConfig([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/svc/", cfg.Mobile.BaseURL)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Pause)
	assert.False(t, cfg.GoodForDay())
	assert.Equal(t, 2.5, cfg.Transport.RatePerSecond)
	assert.Equal(t, []string{"ANZ", "CBA"}, cfg.Quotes.Codes)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown backend", "backend: ftp\n"},
		{"negative attempts", "backend: web\nretry:\n  max_attempts: -1\n"},
		{"too many decimals", "backend: web\norder:\n  price_decimals: 9\n"},
		{"negative rate", "backend: web\ntransport:\n  rate_per_second: -1\n"},
		{"web without an expiry", "backend: web\nweb:\n  order_form:\n    good_for_day: false\n"},
		{"web with a bad expiry", "backend: web\nweb:\n  order_form:\n    good_for_day: false\n    good_until: 31/12/2024\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
		})
	}
}

func TestExplicitZeroDecimalsIsKept(t *testing.T) {
	cfg, err := ParseConfig([]byte("backend: mobile\norder:\n  price_decimals: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, int32(0), cfg.PriceDecimals())

	assert.Equal(t, int32(2), Default().PriceDecimals())
}

func TestWebGoodUntil(t *testing.T) {
	raw := `
backend: web
web:
  order_form:
    good_for_day: false
    good_until: 2024-12-31
`
	cfg, err := ParseConfig([]byte(raw))
	require.NoError(t, err)

	until, err := cfg.GoodUntil()
	require.NoError(t, err)
	assert.Equal(t, "2024-12-30T14:00:00Z", until.UTC().Format(time.RFC3339))
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: mobile\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMobile, cfg.Backend)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
