package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/offload/codecache"
	"github.com/ollama/offload/kernels"
	"github.com/ollama/offload/ml"
	"github.com/ollama/offload/ml/backend/fake"
	"github.com/ollama/offload/ml/backend/host"
	"github.com/ollama/offload/residency"
)

func TestContextEngines(t *testing.T) {
	d0 := fake.New(ml.DeviceInfo{DeviceID: ml.DeviceID{Index: 0}})
	d1 := fake.New(ml.DeviceInfo{DeviceID: ml.DeviceID{Index: 1}})

	c, err := NewContext([]ml.Device{d0, d1}, testConfig(t))
	require.NoError(t, err)

	require.Len(t, c.Engines(), 2)
	e, err := c.Engine(1)
	require.NoError(t, err)
	require.Same(t, ml.Device(d1), e.Device())

	_, err = c.Engine(2)
	require.ErrorIs(t, err, ml.ErrNoDevice)

	require.NoError(t, c.Close())
	require.Empty(t, c.Engines())
}

func TestContextReset(t *testing.T) {
	ctx := context.Background()
	dev := fake.New(ml.DeviceInfo{})
	c, err := NewContext([]ml.Device{dev}, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	e, err := c.Engine(0)
	require.NoError(t, err)

	buf := residency.Float32s([]float32{1})
	a := codecache.Artifact{TaskID: "s0.t0", EntryPoint: "scale", Data: []byte("kernel scale")}
	_, err = e.Run(ctx, a, []any{buf}, []ml.Access{ml.AccessRead})
	require.NoError(t, err)

	require.NoError(t, c.Reset())
	require.False(t, e.Cache().IsCached("s0.t0", "scale"))
	require.Equal(t, residency.Unallocated, buf.State(dev.Info().DeviceID))

	_, err = e.Run(ctx, a, []any{buf}, []ml.Access{ml.AccessRead})
	require.NoError(t, err)
	require.Equal(t, 2, dev.Counters().Builds)
	require.Equal(t, 2, dev.Counters().Writes)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(testConfig(t), "opencl-does-not-exist")
	require.ErrorIs(t, err, ml.ErrNoDriver)
}

func TestHostRun(t *testing.T) {
	ctx := context.Background()
	devs, err := (&host.Driver{Workers: 2}).Devices()
	require.NoError(t, err)

	c, err := NewContext(devs, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	e, err := c.Engine(0)
	require.NoError(t, err)

	a := residency.Float32s([]float32{1, 2, 3, 4})
	b := residency.Float32s([]float32{10, 20, 30, 40})
	sum := residency.Float32s(make([]float32, 4))

	vectorAdd := codecache.Artifact{TaskID: "s0.t0", EntryPoint: "vectorAdd", Data: []byte(kernels.VectorAddSource)}
	ev, err := e.Run(ctx, vectorAdd, []any{a, b, sum}, []ml.Access{ml.AccessRead, ml.AccessRead, ml.AccessWrite})
	require.NoError(t, err)
	require.Equal(t, ml.EventComplete, ev.Status())
	require.Equal(t, []float32{11, 22, 33, 44}, sum.Float32s())

	// sum ist auf dem Geraet praesent und wird als Eingabe wiederverwendet
	saxpy := codecache.Artifact{TaskID: "s0.t1", EntryPoint: "saxpy", Data: []byte(kernels.SaxpySource)}
	_, err = e.Run(ctx, saxpy, []any{float32(2), sum, b}, []ml.Access{ml.AccessRead, ml.AccessRead, ml.AccessReadWrite})
	require.NoError(t, err)
	require.Equal(t, []float32{32, 64, 96, 128}, b.Float32s())

	require.Equal(t, 2, e.Cache().Stats().Builds)
}
