package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alepersan/hckworker/internal/proto"
)

func TestRecorderRecordCheck(t *testing.T) {
	ChecksTotal.Reset()
	r := Recorder{}
	r.RecordCheck(proto.VerdictOK)
	r.RecordCheck(proto.VerdictFail)
	r.RecordCheck(proto.VerdictRetry)

	require.Equal(t, float64(1), testutil.ToFloat64(ChecksTotal.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(ChecksTotal.WithLabelValues("fail")))
}

func TestRecorderRecordDial(t *testing.T) {
	DialsTotal.Reset()
	r := Recorder{}
	r.RecordDial(true)
	r.RecordDial(false)

	require.Equal(t, float64(1), testutil.ToFloat64(DialsTotal.WithLabelValues("true")))
	require.Equal(t, float64(1), testutil.ToFloat64(DialsTotal.WithLabelValues("false")))
}

func TestRecorderGauges(t *testing.T) {
	r := Recorder{}
	r.SetPoolSize(3)
	r.SetInflight(7)

	require.Equal(t, float64(3), testutil.ToFloat64(PoolSize))
	require.Equal(t, float64(7), testutil.ToFloat64(InflightChecks))
}

func TestVerdictLabel(t *testing.T) {
	require.Equal(t, "ok", verdictLabel(proto.VerdictOK))
	require.Equal(t, "retry", verdictLabel(proto.VerdictRetry))
	require.Equal(t, "client_error", verdictLabel(proto.VerdictClientError))
	require.Equal(t, "fail", verdictLabel(proto.VerdictFail))
}
