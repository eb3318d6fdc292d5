package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// codecName selects the application/cbor content type in Connect.
const codecName = "cbor"

// cborCodec is a connect.Codec for plain Go structs with cbor tags.
type cborCodec struct {
	enc cbor.EncMode
}

func newCBORCodec() *cborCodec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	return &cborCodec{enc: em}
}

func (c *cborCodec) Name() string { return codecName }

func (c *cborCodec) Marshal(msg any) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c *cborCodec) Unmarshal(data []byte, msg any) error {
	if err := cbor.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("cbor: %w", err)
	}
	return nil
}
