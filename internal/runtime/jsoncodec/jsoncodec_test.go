package jsoncodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	in := map[string]any{"mission_id": "m1", "attempt": float64(3)}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []string{"a", "b"}))

	var out []string
	require.NoError(t, Decode(&buf, &out))
	assert.Equal(t, []string{"a", "b"}, out)
}
