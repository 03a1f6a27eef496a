// Package codec marshals transport frames. Both ends of a connection must
// use the same codec.
package codec

import (
	"encoding/json"
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/tutu-network/gridpool/internal/domain"
)

// Codec marshals typed messages to bytes and back.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ─── CBOR ───────────────────────────────────────────────────────────────────

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec (core deterministic encoding).
func CBOR() (Codec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) Name() string                       { return "cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// ─── JSON ───────────────────────────────────────────────────────────────────

type jsonCodec struct{}

// JSON returns a JSON codec. Larger frames, but readable on the wire.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// ByName returns the codec registered under name ("cbor" or "json").
// The empty name selects CBOR.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "cbor":
		return CBOR()
	case "json":
		return JSON(), nil
	}
	return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownCodec)
}
