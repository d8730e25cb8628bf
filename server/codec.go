package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// The stats service speaks Connect with a CBOR codec. Requests and
// responses are plain structs; canonical encoding keeps responses
// byte-stable for a given counter state.

const codecNameCBOR = "cbor"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type cborCodec struct{}

func (cborCodec) Name() string {
	return codecNameCBOR
}

func (cborCodec) Marshal(msg any) ([]byte, error) {
	return cborEncMode.Marshal(msg)
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	return cbor.Unmarshal(data, msg)
}
