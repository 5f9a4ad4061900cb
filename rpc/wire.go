package rpc

import (
	"io"
	"sync"

	"github.com/hashicorp/go-msgpack/codec"
)

// frameKind is the discriminator field that lets a single self-delimiting
// MessagePack stream carry three different message shapes back to back,
// with no length prefix (§6 "Wire framing").
type frameKind byte

const (
	frameInit frameKind = iota
	frameRequest
	frameResponse
)

// wireFrame is the on-the-wire shape of every decoded object. Only the
// fields relevant to Kind are populated; the rest travel as zero values.
// The codec encodes the struct as a MessagePack map keyed by field name,
// carrying every field on every frame; it is not the positional
// [kind, ...] array form.
type wireFrame struct {
	Kind frameKind

	// frameInit
	Role uint16
	Addr []byte

	// frameRequest
	Msgid  uint32
	Method uint16
	Params []interface{}

	// frameResponse (Msgid shared with frameRequest)
	Result interface{}
	Err    interface{}
}

func newInitFrame(id Identity) wireFrame {
	return wireFrame{
		Kind: frameInit,
		Role: uint16(id.Role),
		Addr: id.Address.Pack(),
	}
}

func newRequestFrame(msgid uint32, method uint16, params []interface{}) wireFrame {
	return wireFrame{
		Kind:   frameRequest,
		Msgid:  msgid,
		Method: method,
		Params: params,
	}
}

func newResponseFrame(msgid uint32, result, errVal interface{}) wireFrame {
	return wireFrame{
		Kind:   frameResponse,
		Msgid:  msgid,
		Result: result,
		Err:    errVal,
	}
}

var msgpackHandle = &codec.MsgpackHandle{RawToString: true, WriteExt: true}

// frameCodec wraps a single socket's encoder/decoder pair. Encoding is
// serialized with its own lock the way the teacher's RPCClient.send
// serializes writes; decoding is only ever called from the transport's
// single read loop, so it needs no lock of its own.
type frameCodec struct {
	dec *codec.Decoder

	encMu sync.Mutex
	enc   *codec.Encoder
}

func newFrameCodec(rw io.ReadWriter) *frameCodec {
	return &frameCodec{
		dec: codec.NewDecoder(rw, msgpackHandle),
		enc: codec.NewEncoder(rw, msgpackHandle),
	}
}

func (c *frameCodec) readFrame() (wireFrame, error) {
	var f wireFrame
	err := c.dec.Decode(&f)
	return f, err
}

func (c *frameCodec) writeFrame(f wireFrame) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.enc.Encode(&f)
}
