package fabrichost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPServer_ReportsWildcardAddress(t *testing.T) {
	tests := []struct {
		host   string
		prefix string
	}{
		{"", "http://[::]:"},
		{"0.0.0.0", "http://0.0.0.0:"},
		{"127.0.0.1", "http://127.0.0.1:"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			s, err := NewHTTPServer(HTTPServerConfig{Host: tt.host}, nil)
			require.NoError(t, err)
			assert.Empty(t, s.Addresses())

			require.NoError(t, s.Start(context.Background()))
			t.Cleanup(func() { _ = s.Close() })

			addrs := s.Addresses()
			require.Len(t, addrs, 1)
			assert.True(t, strings.HasPrefix(addrs[0], tt.prefix), addrs[0])
			assert.False(t, strings.HasSuffix(addrs[0], ":0"), "port 0 must be resolved")
		})
	}
}

func TestHTTPServer_StopBeforeStart(t *testing.T) {
	s, err := NewHTTPServer(HTTPServerConfig{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Stop(context.Background()), ErrServerNotStarted)
	assert.NoError(t, s.Close())
}

func TestHTTPServer_BindConflict(t *testing.T) {
	first, err := NewHTTPServer(HTTPServerConfig{Host: "127.0.0.1"}, nil)
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	t.Cleanup(func() { _ = first.Close() })

	port := first.Addresses()[0][strings.LastIndex(first.Addresses()[0], ":")+1:]

	cfg := HTTPServerConfig{Host: "127.0.0.1"}
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	second, err := NewHTTPServer(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, second.Start(context.Background()))
}

func TestHTTPServerConfig_Validate(t *testing.T) {
	cfg := HTTPServerConfig{Port: 70000}
	assert.Error(t, cfg.Validate())

	cfg = HTTPServerConfig{TLS: &TLSConfig{Enabled: true}}
	assert.Error(t, cfg.Validate())

	cfg = HTTPServerConfig{}
	require.NoError(t, cfg.Validate())
	assert.NotZero(t, cfg.ReadTimeout)
}

func TestUniqueURLGuard(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})
	h := UniqueURLGuard("/p1/7/")(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p1/7/echo/hi", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/echo/hi", seen)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p1/8/echo/hi", nil))
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p1/70", nil))
	assert.Equal(t, http.StatusGone, rec.Code, "prefix match must respect segment boundaries")

	rec = httptest.NewRecorder()
	UniqueURLGuard("")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
