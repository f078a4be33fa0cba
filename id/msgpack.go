package id

import "github.com/vmihailenco/msgpack/v5"

var (
	_ msgpack.CustomEncoder = (*ID)(nil)
	_ msgpack.CustomDecoder = (*ID)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder. IDs travel as their
// canonical string form; Nil encodes as the empty string.
func (i ID) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(i.String())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (i *ID) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}

	return i.UnmarshalText([]byte(s))
}
