package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec marshals and unmarshals a single object's storage representation.
type Codec interface {
	Marshal(obj any) ([]byte, error)
	Unmarshal(data []byte, out any) error
}

// JSON serializes record-style Go structs with encoding/json, the same way
// every plain domain value was persisted in the backing store this package
// replaces.
type JSON struct{}

// Marshal implements Codec.
func (JSON) Marshal(obj any) ([]byte, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("codec: json marshal: %w", err)
	}
	return data, nil
}

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: json unmarshal: %w", err)
	}
	return nil
}

// Proto serializes protobuf-style objects. obj and out must implement
// proto.Message.
type Proto struct{}

// Marshal implements Codec.
func (Proto) Marshal(obj any) ([]byte, error) {
	msg, ok := obj.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: %T does not implement proto.Message", obj)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("codec: proto marshal: %w", err)
	}
	return data, nil
}

// Unmarshal implements Codec.
func (Proto) Unmarshal(data []byte, out any) error {
	msg, ok := out.(proto.Message)
	if !ok {
		return fmt.Errorf("codec: %T does not implement proto.Message", out)
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("codec: proto unmarshal: %w", err)
	}
	return nil
}
