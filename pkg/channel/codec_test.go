package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGobCodecRoundTrip(t *testing.T) {
	type payload struct {
		ID    uint64
		Tags  []string
		Bytes []byte
	}
	codec := GobCodec{}

	want := payload{ID: 42, Tags: []string{"x", "y"}, Bytes: []byte{0, 1, 2}}
	data, err := codec.Encode(want)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var got payload
	require.NoError(t, codec.Decode(data, &got))
	assert.Equal(t, want, got)
}

func TestGobCodecDecodeGarbage(t *testing.T) {
	var v int
	assert.Error(t, GobCodec{}.Decode([]byte("not gob"), &v))
}
