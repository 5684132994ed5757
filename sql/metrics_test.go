package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics(t *testing.T) {
	tests := []struct {
		name       string
		setup      func() *sdkmetric.MeterProvider
		wantErr    assert.ErrorAssertionFunc
		wantAssert func(*metrics) bool
	}{
		{
			name: "given valid meter, then creates metrics successfully",
			setup: func() *sdkmetric.MeterProvider {
				return sdkmetric.NewMeterProvider()
			},
			wantErr: assert.NoError,
			wantAssert: func(m *metrics) bool {
				return m != nil && m.queryDuration != nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp := tt.setup()
			defer mp.Shutdown(context.Background())

			meter := mp.Meter("test")
			m, err := newMetrics(meter)

			if !tt.wantErr(t, err) {
				return
			}
			assert.True(t, tt.wantAssert(m))
		})
	}
}

func TestRecordQueryDuration(t *testing.T) {
	type args struct {
		duration  time.Duration
		operation string
		attrs     []attribute.KeyValue
		err       error
	}

	tests := []struct {
		name        string
		args        args
		wantMetrics bool
	}{
		{
			name: "given successful query, then records with ok status",
			args: args{
				duration:  100 * time.Millisecond,
				operation: "SELECT",
				attrs: []attribute.KeyValue{
					attribute.String("db.system", "postgresql"),
				},
				err: nil,
			},
			wantMetrics: true,
		},
		{
			name: "given failed query, then records with error status",
			args: args{
				duration:  50 * time.Millisecond,
				operation: "INSERT",
				attrs: []attribute.KeyValue{
					attribute.String("db.system", "mysql"),
				},
				err: assert.AnError,
			},
			wantMetrics: true,
		},
		{
			name: "given empty operation, then records without operation attribute",
			args: args{
				duration:  10 * time.Millisecond,
				operation: "",
				attrs:     []attribute.KeyValue{},
				err:       nil,
			},
			wantMetrics: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			reader := sdkmetric.NewManualReader()
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			defer mp.Shutdown(context.Background())

			meter := mp.Meter("test")
			m, err := newMetrics(meter)
			require.NoError(t, err)

			// Execute
			ctx := context.Background()
			m.recordQueryDuration(
				ctx,
				tt.args.duration,
				tt.args.operation,
				tt.args.attrs,
				tt.args.err,
			)

			// Verify
			var rm metricdata.ResourceMetrics
			err = reader.Collect(ctx, &rm)
			require.NoError(t, err)

			if tt.wantMetrics {
				// Should have recorded metrics
				assert.NotEmpty(t, rm.ScopeMetrics)
			}
		})
	}
}

func TestRecordQueryDuration_NilMetrics(t *testing.T) {
	t.Run("given nil metrics, then does not panic", func(t *testing.T) {
		var m *metrics

		// Should not panic
		assert.NotPanics(t, func() {
			m.recordQueryDuration(context.Background(), time.Second, "SELECT", nil, nil)
		})
	})
}

func TestRecordQueryDuration_NilHistogram(t *testing.T) {
	t.Run("given nil histogram, then does not panic", func(t *testing.T) {
		m := &metrics{queryDuration: nil}

		// Should not panic
		assert.NotPanics(t, func() {
			m.recordQueryDuration(context.Background(), time.Second, "SELECT", nil, nil)
		})
	})
}

func TestObserveRegistry_NilMetrics(t *testing.T) {
	t.Run("given nil metrics, then registers nothing", func(t *testing.T) {
		var m *metrics

		err := m.observeRegistry(sdkmetric.NewMeterProvider().Meter("test"), newRegistry(), nil)

		assert.NoError(t, err)
	})
}

// trackedByResource reads the tracked resources gauge by "db.resource".
func trackedByResource(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "db.client.tracked_resources" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			for _, dp := range gauge.DataPoints {
				v, _ := dp.Attributes.Value("db.resource")
				out[v.AsString()] += dp.Value
				source, _ := dp.Attributes.Value("db.data_source")
				assert.Equal(t, "test", source.AsString())
			}
		}
	}
	return out
}

func TestTrackedResourcesMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	h := newHarness(t, WithMeterProvider(mp), WithDBSystem("sqlite"))
	conn := h.connect(t)
	stmt, rows := session(t, conn, "SELECT NOW()")

	assert.Equal(t, map[string]int64{"connection": 1, "statement": 1, "rows": 1}, trackedByResource(t, reader))

	require.NoError(t, rows.Close())
	require.NoError(t, stmt.Close())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.Equal(t, map[string]int64{"connection": 0, "statement": 0, "rows": 0}, trackedByResource(t, reader))
}

func TestQueryDurationMetric_ByOperation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	h := newHarness(t, WithMeterProvider(mp))
	ctx := context.Background()
	conn := h.connect(t)

	_, err := conn.ExecContext(ctx, "UPDATE users SET active = true", nil)
	require.NoError(t, err)
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, conn.Close())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	ops := make(map[string]uint64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "db.client.operation.duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			for _, dp := range hist.DataPoints {
				v, _ := dp.Attributes.Value("db.operation")
				ops[v.AsString()] += dp.Count
			}
		}
	}
	assert.Equal(t, map[string]uint64{"UPDATE": 1, "BEGIN": 1, "COMMIT": 1}, ops)
}

// poolGaugeValues reads every single-point int64 gauge except the tracked
// resources one, keyed by name.
func poolGaugeValues(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || m.Name == "db.client.tracked_resources" {
				continue
			}
			require.Len(t, gauge.DataPoints, 1, m.Name)
			out[m.Name] = gauge.DataPoints[0].Value
		}
	}
	return out
}

func TestRecordPoolMetrics(t *testing.T) {
	t.Run("given wrapped db, then merges attributes", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer mp.Shutdown(context.Background())

		h := newHarness(t, WithDBSystem("sqlite"), WithDBName("app"))
		db := sql.OpenDB(h.connector)
		defer db.Close()

		require.NoError(t, RecordPoolMetrics(db, mp.Meter("test"), attribute.String("pool", "primary")))

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))

		var found bool
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "db.client.connections.max" {
					continue
				}
				gauge, ok := m.Data.(metricdata.Gauge[int64])
				require.True(t, ok)
				require.Len(t, gauge.DataPoints, 1)

				attrs := gauge.DataPoints[0].Attributes
				system, _ := attrs.Value("db.system")
				assert.Equal(t, "sqlite", system.AsString())
				pool, _ := attrs.Value("pool")
				assert.Equal(t, "primary", pool.AsString())
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("given wrapped db, then pool and registry are observed together", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer mp.Shutdown(context.Background())

		h := newHarness(t)
		db := sql.OpenDB(h.connector)
		defer db.Close()
		require.NoError(t, RecordPoolMetrics(db, mp.Meter("test")))

		ctx := context.Background()
		rows, err := db.QueryContext(ctx, "SELECT NOW()")
		require.NoError(t, err)

		got := poolGaugeValues(t, reader)
		assert.EqualValues(t, 1, got["db.client.connections.open"])
		assert.EqualValues(t, 1, got["db.client.connections.used"])
		assert.EqualValues(t, 1, got["db.client.connections.tracked"])
		assert.EqualValues(t, 2, got["db.client.resources.pending"], "implicit statement and its rows")

		require.NoError(t, rows.Close())

		got = poolGaugeValues(t, reader)
		assert.EqualValues(t, 1, got["db.client.connections.idle"])
		assert.EqualValues(t, 1, got["db.client.connections.tracked"])
		assert.EqualValues(t, 0, got["db.client.resources.pending"])
	})

	t.Run("given unwrapped db, then only pool gauges are published", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer mp.Shutdown(context.Background())

		db := sql.OpenDB(&fakeConnector{d: &fakeDriver{}})
		defer db.Close()
		require.NoError(t, RecordPoolMetrics(db, mp.Meter("test")))

		got := poolGaugeValues(t, reader)
		assert.Contains(t, got, "db.client.connections.open")
		assert.NotContains(t, got, "db.client.connections.tracked")
		assert.NotContains(t, got, "db.client.resources.pending")
	})
}
