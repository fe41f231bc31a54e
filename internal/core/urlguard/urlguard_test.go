package urlguard

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawbounty.market/internal/core/domain"
)

func TestValidate(t *testing.T) {
	tests := map[string]bool{
		"https://hooks.example.com/cb":       true,
		"http://example.org:8080/path?q=1":   true,
		"https://93.184.216.34/hook":         true,
		"https://[2606:4700::1111]/hook":     true,
		"":                                   false,
		"ftp://example.com/file":             false,
		"file:///etc/passwd":                 false,
		"javascript:alert(1)":                false,
		"https:///nohost":                    false,
		"http://localhost/cb":                false,
		"http://LOCALHOST:3000/cb":           false,
		"http://127.0.0.1/cb":                false,
		"http://127.8.9.10/cb":               false,
		"http://0.0.0.0/cb":                  false,
		"http://[::1]/cb":                    false,
		"http://[::]/cb":                     false,
		"http://10.0.0.5/cb":                 false,
		"http://172.16.3.4/cb":               false,
		"http://192.168.1.1/cb":              false,
		"http://169.254.169.254/latest":      false,
		"http://[fe80::1]/cb":                false,
		"http://[fd00::1]/cb":                false,
		"http://[::ffff:10.0.0.1]/cb":        false,
		"http://240.0.0.1/cb":                false,
		"http://printer.local/cb":            false,
		"http://metadata.google.internal/cb": false,
		"http://app.localhost/cb":            false,
	}

	for raw, ok := range tests {
		err := Validate(raw)
		if ok {
			assert.NoError(t, err, raw)
		} else {
			assert.ErrorIs(t, err, domain.ErrSSRFRejected, raw)
		}
	}
}

func TestValidatePtr(t *testing.T) {
	empty := ""
	bad := "http://localhost"
	assert.NoError(t, ValidatePtr(nil))
	assert.NoError(t, ValidatePtr(&empty))
	assert.ErrorIs(t, ValidatePtr(&bad), domain.ErrSSRFRejected)
}

func TestBlocked(t *testing.T) {
	assert.True(t, Blocked(netip.MustParseAddr("255.255.255.255")))
	assert.True(t, Blocked(netip.MustParseAddr("224.0.0.1")))
	assert.True(t, Blocked(netip.MustParseAddr("100.64.1.1")))
	assert.False(t, Blocked(netip.MustParseAddr("1.1.1.1")))
	assert.False(t, Blocked(netip.MustParseAddr("2a00:1450::1")))
}

func TestDialerRefusesLoopback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := DialContext(time.Second)(ctx, "tcp", "127.0.0.1:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSSRFRejected)
}
