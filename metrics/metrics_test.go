package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientObserveCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClient(reg)

	m.ObserveCall("discogs", OutcomeOK, time.Now())
	m.ObserveCall("discogs", OutcomeOK, time.Now())
	m.ObserveCall("discogs", OutcomeTimeout, time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Calls.WithLabelValues("discogs", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("discogs", OutcomeTimeout)))

	n, err := testutil.GatherAndCount(reg, "mqrpc_client_call_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServerRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServer(reg)
	m.Requests.WithLabelValues("ping", OutcomeOK).Inc()

	n, err := testutil.GatherAndCount(reg, "mqrpc_server_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnregistered(t *testing.T) {
	assert.NotPanics(t, func() {
		NewClient(nil)
		NewClient(nil)
	})
}
