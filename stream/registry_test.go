package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformkit/eventstream/internal/runtime/logging"
)

type fakeConfig struct {
	backend string
}

func (c fakeConfig) GetStreamBackend() string { return c.backend }
func (c fakeConfig) GetSQLiteFile() string    { return "" }
func (c fakeConfig) GetRedisAddr() string     { return "" }
func (c fakeConfig) GetRedisPassword() string { return "" }
func (c fakeConfig) GetRedisDB() int          { return 0 }

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	caps := Capabilities{Name: "fake", Durable: true}

	var builtWith Config
	reg.Register("fake", func(ctx context.Context, cfg Config, logger logging.ServiceLogger) (Log, error) {
		builtWith = cfg
		return nil, errors.New("not implemented")
	}, caps)

	assert.True(t, reg.Has("fake"))
	assert.False(t, reg.Has("missing"))
	assert.Equal(t, []string{"fake"}, reg.Names())
	assert.Equal(t, caps, reg.GetCapabilities("fake"))

	cfg := fakeConfig{backend: "fake"}
	_, err := reg.Build(context.Background(), cfg, nil)
	require.EqualError(t, err, "not implemented")
	assert.Equal(t, cfg, builtWith)
}

func TestRegistryBuildUnknownBackend(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build(context.Background(), fakeConfig{backend: "bogus"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stream backend")
}

func TestRegistryBuildNilConfig(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestGetCapabilitiesUnknown(t *testing.T) {
	reg := NewRegistry()

	caps := reg.GetCapabilities("nope")
	assert.Equal(t, "nope", caps.Name)
	assert.False(t, caps.Durable)
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("append", cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "append")
}

func TestDeadLetterStream(t *testing.T) {
	assert.Equal(t, "platform:events:dlq", DeadLetterStream("platform:events"))
}
