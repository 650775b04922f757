package factory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[string]()
	require.NoError(t, reg.Register("echo", func(conf map[string]any) (string, error) {
		var c struct {
			Value string `json:"value"`
		}
		if err := Decode(conf, &c); err != nil {
			return "", err
		}
		return c.Value, nil
	}))
	assert.Error(t, reg.Register("echo", func(map[string]any) (string, error) { return "", nil }))
	assert.Error(t, reg.Register("nil", nil))

	v, err := reg.Create(ModuleConfig{Type: "echo", Conf: map[string]any{"value": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", v)

	_, err = reg.Create(ModuleConfig{Type: "missing"})
	assert.ErrorContains(t, err, "echo")
	assert.Equal(t, []string{"echo"}, reg.Types())
}

func TestCreateWrapsFactoryError(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("bad", func(map[string]any) (int, error) { return 0, boom }))
	_, err := reg.Create(ModuleConfig{Type: "bad"})
	assert.ErrorIs(t, err, boom)
}

func TestDecodeDurationsAndWeakTypes(t *testing.T) {
	var c struct {
		Timeout time.Duration `json:"timeout"`
		Pool    int           `json:"pool"`
		Debug   bool          `json:"debug"`
	}
	err := Decode(map[string]any{"timeout": "1500ms", "pool": "4", "debug": "true"}, &c)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, c.Timeout)
	assert.Equal(t, 4, c.Pool)
	assert.True(t, c.Debug)
}
