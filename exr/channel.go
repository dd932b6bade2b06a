package exr

import (
	"fmt"
	"sort"

	"github.com/mrjoshuak/go-openexr-deep/internal/xdr"
)

// PixelType identifies the storage type of channel samples.
type PixelType int32

const (
	// PixelTypeUint stores 32-bit unsigned integers.
	PixelTypeUint PixelType = 0
	// PixelTypeHalf stores 16-bit floats.
	PixelTypeHalf PixelType = 1
	// PixelTypeFloat stores 32-bit floats.
	PixelTypeFloat PixelType = 2
)

// String returns the OpenEXR name of the type.
func (p PixelType) String() string {
	switch p {
	case PixelTypeUint:
		return "uint"
	case PixelTypeHalf:
		return "half"
	case PixelTypeFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Size returns the size of one sample in bytes, or 0 for unknown types.
func (p PixelType) Size() int {
	switch p {
	case PixelTypeUint, PixelTypeFloat:
		return 4
	case PixelTypeHalf:
		return 2
	default:
		return 0
	}
}

// Channel describes one channel of an image.
type Channel struct {
	Name      string
	Type      PixelType
	XSampling int32
	YSampling int32
	PLinear   bool
}

// NewChannel returns a full-resolution channel.
func NewChannel(name string, t PixelType) Channel {
	return Channel{Name: name, Type: t, XSampling: 1, YSampling: 1}
}

// ChannelList is the set of channels of a part, kept sorted by name.
// Sample data in every chunk is laid out in this order.
type ChannelList struct {
	channels []Channel
}

// NewChannelList returns an empty channel list.
func NewChannelList() *ChannelList {
	return &ChannelList{}
}

// Add inserts c in name order. It returns false if a channel with the same
// name already exists.
func (cl *ChannelList) Add(c Channel) bool {
	i := sort.Search(len(cl.channels), func(i int) bool {
		return cl.channels[i].Name >= c.Name
	})
	if i < len(cl.channels) && cl.channels[i].Name == c.Name {
		return false
	}
	cl.channels = append(cl.channels, Channel{})
	copy(cl.channels[i+1:], cl.channels[i:])
	cl.channels[i] = c
	return true
}

// Len returns the number of channels.
func (cl *ChannelList) Len() int {
	return len(cl.channels)
}

// At returns the i-th channel in name order.
func (cl *ChannelList) At(i int) Channel {
	return cl.channels[i]
}

// Get returns the named channel, or nil.
func (cl *ChannelList) Get(name string) *Channel {
	i := sort.Search(len(cl.channels), func(i int) bool {
		return cl.channels[i].Name >= name
	})
	if i < len(cl.channels) && cl.channels[i].Name == name {
		return &cl.channels[i]
	}
	return nil
}

// Names returns the channel names in order.
func (cl *ChannelList) Names() []string {
	names := make([]string, len(cl.channels))
	for i, c := range cl.channels {
		names[i] = c.Name
	}
	return names
}

// Channels returns a copy of the channels.
func (cl *ChannelList) Channels() []Channel {
	out := make([]Channel, len(cl.channels))
	copy(out, cl.channels)
	return out
}

// BytesPerSample returns the size of one sample across all channels.
func (cl *ChannelList) BytesPerSample() int {
	n := 0
	for _, c := range cl.channels {
		n += c.Type.Size()
	}
	return n
}

// Equal reports whether both lists hold the same channels.
func (cl *ChannelList) Equal(o *ChannelList) bool {
	if cl.Len() != o.Len() {
		return false
	}
	for i := range cl.channels {
		if cl.channels[i] != o.channels[i] {
			return false
		}
	}
	return true
}

// ReadChannelList reads a chlist attribute value.
//
// Each entry is: name (null-terminated), pixel type (int32), pLinear (1),
// reserved (3), xSampling (int32), ySampling (int32). An empty name ends
// the list.
func ReadChannelList(r *xdr.Reader) (*ChannelList, error) {
	cl := NewChannelList()
	for {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if name == "" {
			return cl, nil
		}

		var c Channel
		c.Name = name
		pt, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		c.Type = PixelType(pt)
		plinear, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		c.PLinear = plinear != 0
		if err := r.Skip(3); err != nil {
			return nil, err
		}
		if c.XSampling, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		if c.YSampling, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		if !cl.Add(c) {
			return nil, fmt.Errorf("%w: duplicate channel %q", ErrInvalidHeader, name)
		}
	}
}

// WriteChannelList writes a chlist attribute value.
func WriteChannelList(w *xdr.BufferWriter, cl *ChannelList) {
	for _, c := range cl.channels {
		w.WriteString(c.Name)
		w.WriteInt32(int32(c.Type))
		if c.PLinear {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
		w.WriteBytes([]byte{0, 0, 0})
		w.WriteInt32(c.XSampling)
		w.WriteInt32(c.YSampling)
	}
	w.WriteByte(0)
}
