package channel

import (
	"bytes"
	"encoding/gob"

	"github.com/valyala/bytebufferpool"
)

// Codec turns values into the opaque byte strings the channel moves.
// It is a swappable collaborator: the ring is agnostic to the encoding
// format, so any self-describing serializer will do.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// GobCodec is the default Codec, backed by encoding/gob. Encoding is
// staged through a pooled buffer; the returned slice is an owned copy.
type GobCodec struct{}

// Encode serializes v.
func (GobCodec) Encode(v interface{}) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

// Decode deserializes data into v, which must be a pointer.
func (GobCodec) Decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
