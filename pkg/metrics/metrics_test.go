package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alris/cms-backend/pkg/errs"
)

func TestMetrics_Fetched(t *testing.T) {
	m := New()

	m.Fetched("blogs", 10*time.Millisecond, nil)
	m.Fetched("blogs", 10*time.Millisecond, nil)
	m.Fetched("blogs", time.Millisecond, errs.E(errs.IO, errs.Op("postgrest.Select"), errs.Str("boom")))
	m.Superseded("blogs")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetches.WithLabelValues("blogs", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("blogs", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.superseded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("postgrest.Select")))
}

func TestMetrics_ErrorLocation(t *testing.T) {
	m := New()

	inner := errs.E(errs.Exist, errs.Op("sqlstore.Insert"), errs.Str("duplicate"))
	m.Mutated("create", errs.E(errs.Op("collectionService.Create"), inner))
	m.Mutated("create", nil)
	m.Error(errs.Str("plain"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("create", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("create", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("sqlstore.Insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("unknown")))
}

func TestMetrics_Views(t *testing.T) {
	m := New()

	m.ViewOpened()
	m.ViewOpened()
	m.ViewClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.openViews))
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()

	require.NoError(t, New().Register(reg, nil, ""))

	// Registering the same collectors twice is refused.
	assert.Error(t, New().Register(reg, nil, ""))
}
