package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPrepareDevice(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		available int
		want      Device
		wantIDs   []int
		warnings  int
	}{
		{name: "cpu requested", requested: 0, available: 4, want: Device{Kind: CPU}, wantIDs: []int{}},
		{name: "no gpu", requested: 2, available: 0, want: Device{Kind: CPU}, wantIDs: []int{}, warnings: 1},
		{name: "enough gpus", requested: 2, available: 4, want: Device{Kind: CUDA}, wantIDs: []int{0, 1}},
		{name: "clamped", requested: 8, available: 2, want: Device{Kind: CUDA}, wantIDs: []int{0, 1}, warnings: 1},
		{name: "negative request", requested: -1, available: 2, want: Device{Kind: CPU}, wantIDs: []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			dev, ids := PrepareDevice(tt.requested, Static(tt.available), zap.New(core).Sugar())
			assert.Equal(t, tt.want, dev)
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.warnings, logs.Len())
		})
	}
}

func TestPrepareDevice_ProbeError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	probe := ProbeFunc(func() (int, error) { return 0, errors.New("driver exploded") })

	dev, ids := PrepareDevice(1, probe, zap.New(core).Sugar())
	assert.Equal(t, Device{Kind: CPU}, dev)
	assert.Empty(t, ids)
	assert.Equal(t, 2, logs.Len())
}

func TestDevice_String(t *testing.T) {
	assert.Equal(t, "cpu", Device{Kind: CPU}.String())
	assert.Equal(t, "cuda:0", Device{Kind: CUDA}.String())
	assert.Equal(t, "cuda:3", Device{Kind: CUDA, Index: 3}.String())
}

func TestNvidiaProcProbe(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0000:01:00.0", "0000:02:00.0"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0755))
	}
	n, err := NvidiaProcProbe{Dir: dir}.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = NvidiaProcProbe{Dir: filepath.Join(dir, "missing")}.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestVisibleDevicesProbe(t *testing.T) {
	tests := map[string]int{
		"":          0,
		"0":         1,
		"0,1,2":     3,
		" 1 , 3 ":   2,
		"-1":        0,
		"0,-1,2":    1,
		"GPU-8a1b2": 1,
	}
	for value, want := range tests {
		probe := VisibleDevicesProbe{LookupEnv: func(string) (string, bool) { return value, true }}
		got, err := probe.Count()
		require.NoError(t, err)
		assert.Equal(t, want, got, "CUDA_VISIBLE_DEVICES=%q", value)
	}
}

func TestVisibleOr(t *testing.T) {
	fallback := ProbeFunc(func() (int, error) { return 4, nil })
	tests := []struct {
		name  string
		value string
		set   bool
		want  int
	}{
		{name: "unset asks the fallback", want: 4},
		{name: "empty hides every device", value: "", set: true, want: 0},
		{name: "listed devices", value: "0,1", set: true, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := VisibleDevicesProbe{LookupEnv: func(string) (string, bool) { return tt.value, tt.set }}
			n, err := visibleOr(env, fallback).Count()
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestDefaultProbe_EmptyVisibleDevices(t *testing.T) {
	t.Setenv("CUDA_VISIBLE_DEVICES", "")
	n, err := DefaultProbe().Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDefaultProbe_UsesVisibleDevices(t *testing.T) {
	t.Setenv("CUDA_VISIBLE_DEVICES", "0,1")
	n, err := DefaultProbe().Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
