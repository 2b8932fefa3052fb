package serialization

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Symbol string
	Price  float64
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, typ := range []string{JSONType, GobType} {
		t.Run(typ, func(t *testing.T) {
			codec, err := ForType(typ)
			if err != nil {
				t.Fatalf("ForType(%q) error = %v", typ, err)
			}
			var buf bytes.Buffer
			if err := codec.NewEncoder(&buf).Encode(sample{Symbol: "AAPL", Price: 190.5}); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			var got sample
			if err := codec.NewDecoder(&buf).Decode(&got); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Symbol != "AAPL" || got.Price != 190.5 {
				t.Errorf("decoded %+v", got)
			}
		})
	}
}

func TestJsonEncoderSortsMapKeys(t *testing.T) {
	var buf bytes.Buffer
	if err := JsonEncoder(&buf).Encode(map[string]any{"b": 2, "a": 1}); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != `{"a":1,"b":2}` {
		t.Errorf("Encode() = %s", got)
	}
}

func TestForTypeUnsupported(t *testing.T) {
	if _, err := ForType("xml"); err == nil {
		t.Error("ForType(xml) should fail")
	}
}
