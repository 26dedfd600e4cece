package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirstack/internal/config"
)

func TestHTTPProbe_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	probe := NewHTTPProbe(server.URL, time.Second)
	assert.NoError(t, probe.Check(context.Background()))
}

func TestHTTPProbe_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	probe := NewHTTPProbe(server.URL, time.Second)
	err := probe.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned status 503")
}

func TestHTTPProbe_ConnectionRefused(t *testing.T) {
	// Grab a free port and close the listener so nothing accepts.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	probe := NewHTTPProbe("http://"+addr, 500*time.Millisecond)
	assert.Error(t, probe.Check(context.Background()))
}

func TestTCPProbe_Success(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	probe := NewTCPProbe(l.Addr().String(), time.Second)
	assert.NoError(t, probe.Check(context.Background()))
}

func TestTCPProbe_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	probe := NewTCPProbe(addr, 500*time.Millisecond)
	assert.Error(t, probe.Check(context.Background()))
}

func TestNewProbe(t *testing.T) {
	tests := []struct {
		name     string
		def      config.HealthCheckDefinition
		wantType interface{}
		wantErr  bool
	}{
		{
			name:     "http",
			def:      config.HealthCheckDefinition{Protocol: config.ProbeHTTP, Target: "http://localhost:5560/fhir/metadata"},
			wantType: &HTTPProbe{},
		},
		{
			name:     "tcp",
			def:      config.HealthCheckDefinition{Protocol: config.ProbeTCP, Target: "localhost:5432"},
			wantType: &TCPProbe{},
		},
		{
			name:    "unsupported",
			def:     config.HealthCheckDefinition{Protocol: "udp", Target: "localhost:53"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe, err := NewProbe(tt.def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, probe)
		})
	}
}
