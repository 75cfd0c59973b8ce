package checkpoint

import (
	"fmt"

	"airose/pkg/state"

	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	// Core Deterministic Encoding: 同一個 state 永遠產生同樣的 bytes
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("checkpoint: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("checkpoint: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("checkpoint: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("checkpoint: zstd decoder initialization failed: " + err.Error())
	}
}

// Codec turns a State into bytes and back.
type Codec struct {
	format   string
	compress bool
}

// NewCodec returns a codec for format ("json" or "cbor", default json),
// optionally wrapping the payload in a zstd frame.
func NewCodec(format string, compress bool) (*Codec, error) {
	switch format {
	case "":
		format = CodecJSON
	case CodecJSON, CodecCBOR:
	default:
		return nil, fmt.Errorf("unknown checkpoint codec %q", format)
	}
	return &Codec{format: format, compress: compress}, nil
}

// DefaultCodec is uncompressed JSON.
func DefaultCodec() *Codec {
	return &Codec{format: CodecJSON}
}

// Ext is the file extension matching the codec.
func (c *Codec) Ext() string {
	ext := "." + c.format
	if c.compress {
		ext += ".zst"
	}
	return ext
}

func (c *Codec) Encode(st *state.State) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if c.format == CodecCBOR {
		data, err = encMode.Marshal(st)
	} else {
		data, err = json.Marshal(st)
	}
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	if c.compress {
		data = zstdEncoder.EncodeAll(data, nil)
	}
	return data, nil
}

func (c *Codec) Decode(data []byte) (*state.State, error) {
	if c.compress {
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		data = raw
	}

	st := &state.State{}
	var err error
	if c.format == CodecCBOR {
		err = decMode.Unmarshal(data, st)
	} else {
		err = json.Unmarshal(data, st)
	}
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if st.Next == "" {
		st.Next = state.End
	}
	return st, nil
}
