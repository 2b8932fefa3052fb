package serialization

import (
	"fmt"
	"io"
)

const (
	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder is the decoding half of a serialization format.
type Decoder interface {
	Decode(v any) error
}

// Encoder is the encoding half of a serialization format.
type Encoder interface {
	Encode(v any) error
}

// Codec pairs the constructors of one format.
type Codec struct {
	Type       string
	NewEncoder func(io.Writer) Encoder
	NewDecoder func(io.Reader) Decoder
}

// ForType returns the codec registered under typ.
func ForType(typ string) (Codec, error) {
	switch typ {
	case JSONType, "":
		return Codec{Type: JSONType, NewEncoder: JsonEncoder, NewDecoder: JsonDecoder}, nil
	case GobType:
		return Codec{Type: GobType, NewEncoder: GobEncoder, NewDecoder: GobDecoder}, nil
	default:
		return Codec{}, fmt.Errorf("unsupported serialization type: %s", typ)
	}
}
