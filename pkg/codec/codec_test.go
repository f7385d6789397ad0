package codec

import "testing"

type sample struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestJSONRoundTrip(t *testing.T) {
	var c JSON
	data, err := c.Marshal(&sample{Name: "bridge-1", N: 7})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != "bridge-1" || out.N != 7 {
		t.Errorf("round trip = %+v, want {bridge-1 7}", out)
	}
}

func TestJSONMarshalRejectsUnsupportedValue(t *testing.T) {
	var c JSON
	if _, err := c.Marshal(make(chan int)); err == nil {
		t.Fatal("expected error marshaling a channel")
	}
}

func TestProtoMarshalRejectsNonMessage(t *testing.T) {
	var c Proto
	if _, err := c.Marshal(&sample{}); err == nil {
		t.Fatal("expected error marshaling a non-proto.Message value")
	}
}

func TestProtoUnmarshalRejectsNonMessage(t *testing.T) {
	var c Proto
	if err := c.Unmarshal([]byte{}, &sample{}); err == nil {
		t.Fatal("expected error unmarshaling into a non-proto.Message value")
	}
}
