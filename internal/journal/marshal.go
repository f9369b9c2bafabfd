package journal

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/scribe/internal/record"
)

// payloadCodec turns record values into zstd-compressed canonical JSON
// blobs and back. Canonical serialization keeps blobs byte-stable for
// identical values; compression keeps large payload histories cheap.
type payloadCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newPayloadCodec() (*payloadCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &payloadCodec{enc: enc, dec: dec}, nil
}

func (c *payloadCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// encode renders an object as compressed canonical JSON.
func (c *payloadCodec) encode(obj record.Object) ([]byte, error) {
	if obj == nil {
		obj = record.Object{}
	}
	data, err := record.MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.enc.EncodeAll(data, nil), nil
}

// decode parses a compressed canonical JSON blob back to an object.
// Large integers survive via json.Number handling in the record codec.
func (c *payloadCodec) decode(blob []byte) (record.Object, error) {
	data, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	var obj record.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}

// encodeValue compresses one canonical-JSON value.
func (c *payloadCodec) encodeValue(v record.Value) ([]byte, error) {
	data, err := record.MarshalCanonical(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return c.enc.EncodeAll(data, nil), nil
}

// decodeValue decompresses one canonical-JSON value.
func (c *payloadCodec) decodeValue(blob []byte) (record.Value, error) {
	data, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress value: %w", err)
	}
	return record.UnmarshalValue(data)
}
