package codec

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Compressor with per-selector trained
// dictionaries, built from github.com/klauspost/compress/zstd (promoted
// from the teacher's indirect dependency on klauspost/compress, pulled in
// transitively via containerd, to a direct one here).
//
// Encoders/decoders are expensive to build and are safe for concurrent
// use once built, so one pair is cached per selector.
type ZstdCompressor struct {
	dictionaries map[DictSelector][]byte

	mu       sync.Mutex
	encoders map[DictSelector]*zstd.Encoder
	decoders map[DictSelector]*zstd.Decoder
}

// NewZstdCompressor builds a compressor. dictionaries maps a selector to
// its trained dictionary bytes; DictNone needs no entry.
func NewZstdCompressor(dictionaries map[DictSelector][]byte) *ZstdCompressor {
	return &ZstdCompressor{
		dictionaries: dictionaries,
		encoders:     make(map[DictSelector]*zstd.Encoder),
		decoders:     make(map[DictSelector]*zstd.Decoder),
	}
}

func (z *ZstdCompressor) encoder(sel DictSelector) (*zstd.Encoder, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if enc, ok := z.encoders[sel]; ok {
		return enc, nil
	}
	opts := []zstd.EOption{zstd.WithEncoderLevel(zstd.SpeedDefault)}
	if dict := z.dictionaries[sel]; len(dict) > 0 {
		opts = append(opts, zstd.WithEncoderDict(dict))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("build zstd encoder: %w", err)
	}
	z.encoders[sel] = enc
	return enc, nil
}

func (z *ZstdCompressor) decoder(sel DictSelector) (*zstd.Decoder, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if dec, ok := z.decoders[sel]; ok {
		return dec, nil
	}
	var opts []zstd.DOption
	if dict := z.dictionaries[sel]; len(dict) > 0 {
		opts = append(opts, zstd.WithDecoderDicts(dict))
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("build zstd decoder: %w", err)
	}
	z.decoders[sel] = dec
	return dec, nil
}

// Compress implements Compressor.
func (z *ZstdCompressor) Compress(plaintext []byte, sel DictSelector) ([]byte, error) {
	enc, err := z.encoder(sel)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(plaintext, nil), nil
}

// Decompress implements Compressor.
func (z *ZstdCompressor) Decompress(compressed []byte, sel DictSelector) ([]byte, error) {
	dec, err := z.decoder(sel)
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(compressed, nil)
}

var _ Compressor = (*ZstdCompressor)(nil)

// NopCompressor performs no compression; useful for tests that want to
// assert on envelope framing without pulling in zstd's nondeterminism.
type NopCompressor struct{}

func (NopCompressor) Compress(plaintext []byte, _ DictSelector) ([]byte, error) {
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (NopCompressor) Decompress(compressed []byte, _ DictSelector) ([]byte, error) {
	if compressed == nil {
		return []byte{}, nil
	}
	return bytes.Clone(compressed), nil
}

var _ Compressor = NopCompressor{}
