package volume

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

var mpHandle codec.MsgpackHandle

func init() {
	mpHandle.RawToString = true
}

// marshalMsgpack encodes v with MessagePack, the wire format spec.md §6
// specifies for the super-block body and used throughout this package for
// every other persisted record (addresses, WAL entries) for consistency.
func marshalMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mpHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalMsgpack(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, &mpHandle)
	return dec.Decode(v)
}
