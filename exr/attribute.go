package exr

import (
	"errors"
	"fmt"

	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// Compression defines the compression method for pixel data.
type Compression uint8

const (
	// CompressionNone stores uncompressed data.
	CompressionNone Compression = 0
	// CompressionRLE uses run-length encoding.
	CompressionRLE Compression = 1
	// CompressionZIPS uses zlib compression on single scanlines.
	CompressionZIPS Compression = 2
	// CompressionZIP uses zlib compression on 16 scanlines.
	CompressionZIP Compression = 3
	CompressionPIZ      Compression = 4
	CompressionPXR24    Compression = 5
	CompressionB44      Compression = 6
	CompressionB44A     Compression = 7
	CompressionDWAA     Compression = 8
	CompressionDWAB     Compression = 9
	CompressionHTJ2K256 Compression = 10
	CompressionHTJ2K32  Compression = 11
)

// String returns a string representation of the compression type.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionRLE:
		return "rle"
	case CompressionZIPS:
		return "zips"
	case CompressionZIP:
		return "zip"
	case CompressionPIZ:
		return "piz"
	case CompressionPXR24:
		return "pxr24"
	case CompressionB44:
		return "b44"
	case CompressionB44A:
		return "b44a"
	case CompressionDWAA:
		return "dwaa"
	case CompressionDWAB:
		return "dwab"
	case CompressionHTJ2K256:
		return "htj2k256"
	case CompressionHTJ2K32:
		return "htj2k32"
	default:
		return "unknown"
	}
}

// ScanlinesPerChunk returns the number of scanlines grouped together
// for this compression type.
func (c Compression) ScanlinesPerChunk() int {
	switch c {
	case CompressionNone, CompressionRLE, CompressionZIPS:
		return 1
	case CompressionZIP, CompressionPXR24:
		return 16
	case CompressionPIZ, CompressionB44, CompressionB44A, CompressionDWAA:
		return 32
	case CompressionDWAB, CompressionHTJ2K256, CompressionHTJ2K32:
		return 256
	default:
		return 1
	}
}

// SupportsDeep reports whether deep data may be stored with c.
// Only the lossless byte-oriented codecs qualify.
func (c Compression) SupportsDeep() bool {
	switch c {
	case CompressionNone, CompressionRLE, CompressionZIPS, CompressionZIP:
		return true
	}
	return false
}

// LineOrder defines the order of chunks in the file.
type LineOrder uint8

const (
	// LineOrderIncreasing stores chunks from top to bottom (y=min first).
	LineOrderIncreasing LineOrder = 0
	// LineOrderDecreasing stores chunks from bottom to top (y=max first).
	LineOrderDecreasing LineOrder = 1
	// LineOrderRandom allows chunks in any order.
	LineOrderRandom LineOrder = 2
)

// String returns a string representation of the line order.
func (lo LineOrder) String() string {
	switch lo {
	case LineOrderIncreasing:
		return "increasing_y"
	case LineOrderDecreasing:
		return "decreasing_y"
	case LineOrderRandom:
		return "random_y"
	default:
		return "unknown"
	}
}

// TileDescription describes tile dimensions and level modes.
type TileDescription struct {
	XSize        uint32
	YSize        uint32
	Mode         LevelMode
	RoundingMode LevelRoundingMode
}

// LevelMode defines how multi-resolution levels are stored.
type LevelMode uint8

const (
	// LevelModeOne stores a single resolution level.
	LevelModeOne LevelMode = 0
	// LevelModeMipmap stores power-of-2 mipmap levels.
	LevelModeMipmap LevelMode = 1
	// LevelModeRipmap stores independent X and Y resolution levels.
	LevelModeRipmap LevelMode = 2
)

// LevelRoundingMode defines how level sizes are rounded.
type LevelRoundingMode uint8

const (
	// LevelRoundDown rounds level sizes down.
	LevelRoundDown LevelRoundingMode = 0
	// LevelRoundUp rounds level sizes up.
	LevelRoundUp LevelRoundingMode = 1
)

// Attribute errors
var (
	ErrUnknownAttributeType = errors.New("exr: unknown attribute type")
	ErrInvalidAttribute     = errors.New("exr: invalid attribute value")
)

// AttributeType identifies the type of an attribute.
type AttributeType string

// Attribute types understood by this package. Anything else is carried
// through as raw bytes.
const (
	AttrTypeBox2i       AttributeType = "box2i"
	AttrTypeChlist      AttributeType = "chlist"
	AttrTypeCompression AttributeType = "compression"
	AttrTypeFloat       AttributeType = "float"
	AttrTypeInt         AttributeType = "int"
	AttrTypeLineOrder   AttributeType = "lineOrder"
	AttrTypeM44f        AttributeType = "m44f"
	AttrTypeString      AttributeType = "string"
	AttrTypeTileDesc    AttributeType = "tiledesc"
	AttrTypeV2f         AttributeType = "v2f"
	AttrTypeV2i         AttributeType = "v2i"
)

// Attribute represents a single header attribute.
type Attribute struct {
	Name  string
	Type  AttributeType
	Value interface{}
}

// ReadAttribute reads a single attribute from the reader.
// Returns nil when the header terminator (empty name) is reached.
func ReadAttribute(r *xdr.Reader) (*Attribute, error) {
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}

	typeName, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	size, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: attribute %q has negative size", ErrInvalidAttribute, name)
	}
	raw, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, err
	}

	attr := &Attribute{Name: name, Type: AttributeType(typeName)}
	vr := xdr.NewReader(raw)

	switch attr.Type {
	case AttrTypeBox2i:
		attr.Value, err = ReadBox2i(vr)
	case AttrTypeChlist:
		attr.Value, err = ReadChannelList(vr)
	case AttrTypeCompression:
		b, e := vr.ReadByte()
		attr.Value, err = Compression(b), e
	case AttrTypeFloat:
		attr.Value, err = vr.ReadFloat32()
	case AttrTypeInt:
		attr.Value, err = vr.ReadInt32()
	case AttrTypeLineOrder:
		b, e := vr.ReadByte()
		attr.Value, err = LineOrder(b), e
	case AttrTypeM44f:
		attr.Value, err = ReadM44f(vr)
	case AttrTypeString:
		attr.Value = string(raw)
	case AttrTypeTileDesc:
		attr.Value, err = readTileDescription(vr)
	case AttrTypeV2f:
		attr.Value, err = ReadV2f(vr)
	case AttrTypeV2i:
		attr.Value, err = ReadV2i(vr)
	default:
		attr.Value = append([]byte(nil), raw...)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: attribute %q: %v", ErrInvalidAttribute, name, err)
	}
	return attr, nil
}

// WriteAttribute writes an attribute to the writer.
func WriteAttribute(w *xdr.BufferWriter, attr *Attribute) error {
	w.WriteString(attr.Name)
	w.WriteString(string(attr.Type))

	// The value goes to a scratch buffer first so its size can be written ahead of it.
	vw := xdr.NewBufferWriter(64)
	if err := writeAttributeValue(vw, attr); err != nil {
		return err
	}
	w.WriteInt32(int32(vw.Len()))
	w.WriteBytes(vw.Bytes())
	return nil
}

func writeAttributeValue(w *xdr.BufferWriter, attr *Attribute) error {
	switch v := attr.Value.(type) {
	case Box2i:
		WriteBox2i(w, v)
	case *ChannelList:
		WriteChannelList(w, v)
	case Compression:
		w.WriteByte(byte(v))
	case float32:
		w.WriteFloat32(v)
	case int32:
		w.WriteInt32(v)
	case LineOrder:
		w.WriteByte(byte(v))
	case M44f:
		WriteM44f(w, v)
	case string:
		w.WriteBytes([]byte(v))
	case TileDescription:
		writeTileDescription(w, v)
	case V2f:
		WriteV2f(w, v)
	case V2i:
		WriteV2i(w, v)
	case []byte:
		w.WriteBytes(v)
	default:
		return fmt.Errorf("%w: %s (%T)", ErrUnknownAttributeType, attr.Type, attr.Value)
	}
	return nil
}

// readTileDescription reads xSize (4), ySize (4) and a mode byte holding
// the level mode in the low nibble and the rounding mode in the high one.
func readTileDescription(r *xdr.Reader) (TileDescription, error) {
	var td TileDescription
	var err error

	td.XSize, err = r.ReadUint32()
	if err != nil {
		return td, err
	}
	td.YSize, err = r.ReadUint32()
	if err != nil {
		return td, err
	}
	mode, err := r.ReadByte()
	if err != nil {
		return td, err
	}
	td.Mode = LevelMode(mode & 0x0F)
	td.RoundingMode = LevelRoundingMode((mode >> 4) & 0x0F)
	return td, nil
}

func writeTileDescription(w *xdr.BufferWriter, td TileDescription) {
	w.WriteUint32(td.XSize)
	w.WriteUint32(td.YSize)
	w.WriteByte(byte(td.Mode) | byte(td.RoundingMode)<<4)
}
