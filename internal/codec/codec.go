// Package codec encodes stored records as deterministic CBOR.
//
// Every property list item, device record body and cached fragment header
// goes through this package, so the same logical value always produces the
// same bytes. Struct fields use `cbor` tags; decoding into `any` yields
// map[string]any so values can be re-rendered as JSON by the CLI.
package codec

import (
	"bytes"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// RawMessage is one encoded CBOR value.
type RawMessage = cbor.RawMessage

// emptyMap is the canonical encoding of an empty map.
var emptyMap = []byte{0xa0}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// IsEmptyMap reports whether data is the encoding of a map with no entries.
func IsEmptyMap(data []byte) bool {
	return bytes.Equal(data, emptyMap)
}

// IsNull reports whether data is the encoding of null.
func IsNull(data []byte) bool {
	return len(data) == 1 && data[0] == 0xf6
}

// EmptyMap returns a fresh encoding of an empty map.
func EmptyMap() RawMessage {
	return RawMessage{0xa0}
}

// Diagnose renders data in CBOR diagnostic notation, used by the CLI's
// verbose output.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
