package cow

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

var mpHandle codec.MsgpackHandle

func init() {
	mpHandle.RawToString = true
}

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
