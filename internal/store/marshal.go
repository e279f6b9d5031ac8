package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/growline/internal/codec"
	"github.com/roach88/growline/internal/docstore"
)

// recordBody is the decoded form of device_records.body.
type recordBody map[string][]docstore.Item

var (
	payloadEncoder *zstd.Encoder
	payloadDecoder *zstd.Decoder
)

func init() {
	var err error
	payloadEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	payloadDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// marshalBody encodes a record body as deterministic CBOR.
func marshalBody(body recordBody) ([]byte, error) {
	data, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal record body: %w", err)
	}
	return data, nil
}

// unmarshalBody decodes a record body. An empty blob is an empty body.
func unmarshalBody(data []byte) (recordBody, error) {
	body := recordBody{}
	if len(data) == 0 {
		return body, nil
	}
	if err := codec.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("unmarshal record body: %w", err)
	}
	if body == nil {
		body = recordBody{}
	}
	return body, nil
}

// compressPayload zstd-compresses a fragment payload.
func compressPayload(p []byte) []byte {
	return payloadEncoder.EncodeAll(p, make([]byte, 0, len(p)/2+16))
}

// decompressPayload reverses compressPayload.
func decompressPayload(p []byte) ([]byte, error) {
	out, err := payloadDecoder.DecodeAll(p, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return out, nil
}
