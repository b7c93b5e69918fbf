package logger

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsFollowCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	cs := Collectors()
	require.Len(t, cs, 6)
	require.NoError(t, reg.Register(cs[0]))

	before := testutil.ToFloat64(cs[0])
	ErrorHttp5xx()
	assert.Equal(t, before+1, testutil.ToFloat64(cs[0]))

	before409 := testutil.ToFloat64(cs[5])
	WarnHttp4xx(409)
	assert.Equal(t, before409+1, testutil.ToFloat64(cs[5]))
}
