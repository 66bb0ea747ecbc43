package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ImageVersion is the current chunk image format version.
// Increment when making incompatible changes to the format.
const ImageVersion uint16 = 1

// ImageMagic tags chunk images: "CLXB" (clox bytecode).
const ImageMagic = "CLXB"

// chunkImage is the on-disk form of a chunk.
type chunkImage struct {
	Magic     string    `cbor:"1,keyasint"`
	Version   uint16    `cbor:"2,keyasint"`
	Code      []byte    `cbor:"3,keyasint"`
	Lines     []LineRun `cbor:"4,keyasint"`
	Constants []float64 `cbor:"5,keyasint"`
}

// cborEncMode uses canonical encoding so equal chunks encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage encodes the chunk as a CBOR image for storage or transport.
func (c *Chunk) MarshalImage() ([]byte, error) {
	img := chunkImage{
		Magic:     ImageMagic,
		Version:   ImageVersion,
		Code:      c.code,
		Lines:     c.lines.runs,
		Constants: make([]float64, c.constants.Len()),
	}
	for i, v := range c.constants.values {
		img.Constants[i] = float64(v)
	}
	data, err := cborEncMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal image: %w", err)
	}
	return data, nil
}

// UnmarshalImage decodes a chunk written by MarshalImage. Images whose
// line table does not cover exactly the code bytes are rejected.
func UnmarshalImage(data []byte) (*Chunk, error) {
	var img chunkImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptImage, err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("%w: invalid magic %q", ErrCorruptImage, img.Magic)
	}
	if img.Version > ImageVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d",
			ErrCorruptImage, img.Version, ImageVersion)
	}

	c := NewChunk()
	c.code = img.Code
	total := 0
	for i, run := range img.Lines {
		if run.Count <= 0 {
			return nil, fmt.Errorf("%w: line run %d has count %d", ErrCorruptImage, i, run.Count)
		}
		if i > 0 && img.Lines[i-1].Line == run.Line {
			return nil, fmt.Errorf("%w: line runs %d and %d share line %d", ErrCorruptImage, i-1, i, run.Line)
		}
		total += run.Count
	}
	if total != len(img.Code) {
		return nil, fmt.Errorf("%w: line table covers %d bytes, code has %d",
			ErrCorruptImage, total, len(img.Code))
	}
	c.lines.runs = img.Lines
	for _, v := range img.Constants {
		c.constants.values = append(c.constants.values, Value(v))
	}
	return c, nil
}
