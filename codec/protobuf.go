package codec

import "google.golang.org/protobuf/proto"

// Protobuf serializes proto messages. Decode needs a constructor for the
// concrete message type, e.g. func() *mypb.User { return &mypb.User{} }.
//
// Proto wire output is not canonical across library versions, so avoid
// Protobuf values with byte-compared operations.
type Protobuf[T proto.Message] struct {
	new func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}
func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
