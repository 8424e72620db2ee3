package pdx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseOptions(t *testing.T) {
	o, err := ParseOptions([]byte(`
read_serialized: true
preserved_data_ttl: 5s
log_level: debug
distributed_system_id: 3
`))
	require.NoError(t, err)
	require.True(t, o.ReadSerialized)
	require.False(t, o.IgnoreUnreadFields)
	require.Equal(t, 5*time.Second, o.PreservedDataTTL)
	require.Equal(t, "debug", o.LogLevel)
	require.Equal(t, "pdx", o.MetricsNamespace, "unset keys keep defaults")
	require.Equal(t, int8(3), o.DistributedSystemID)

	_, err = ParseOptions([]byte("preserved_data_ttl: -1s"))
	require.Error(t, err)
	_, err = ParseOptions([]byte("read_serialized: [nope"))
	require.Error(t, err)
}

func TestLoadOptionsRoundTrip(t *testing.T) {
	want := DefaultOptions()
	want.IgnoreUnreadFields = true
	want.MetricsNamespace = "cache"
	b, err := yaml.Marshal(want)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pdx.yaml")
	require.NoError(t, os.WriteFile(path, b, 0o600))

	got, err := LoadOptions(path)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWithPrometheus(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	opts := DefaultOptions()
	opts.MetricsNamespace = "pdxtest"
	s := newTestSerializer(t, nil, WithOptions(opts), WithPrometheus(reg))

	for i := 0; i < 3; i++ {
		_, err := s.Serialize(ctx, &pointV1{X: int32(i)})
		require.NoError(t, err)
	}
	n, err := testutil.GatherAndCount(reg, "pdxtest_serializer_serializations_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = NewSerializer(nil, WithOptions(opts), WithPrometheus(reg))
	require.Error(t, err, "collectors are already registered")
}
