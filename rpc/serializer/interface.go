package serializer

import (
	"fmt"

	"github.com/ValentinKolb/dCall/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into the given Message
	Deserialize(b []byte, msg *common.Message) error
}

// ByName returns the serializer with the given name (binary, json or gob)
func ByName(name string) (IRPCSerializer, error) {
	switch name {
	case "binary", "":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q: must be binary, json or gob", name)
	}
}
