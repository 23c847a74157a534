package nifti

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the size of a NIfTI-1 header in bytes.
const HeaderSize = 348

// Datatype codes.
const (
	Uint8   int16 = 2
	Int16   int16 = 4
	Int32   int16 = 8
	Float32 int16 = 16
	Float64 int16 = 64
	Int8    int16 = 256
	Uint16  int16 = 512
	Uint32  int16 = 768
)

var bitsPerVoxel = map[int16]int16{
	Uint8:   8,
	Int8:    8,
	Int16:   16,
	Uint16:  16,
	Int32:   32,
	Uint32:  32,
	Float32: 32,
	Float64: 64,
}

// Header is the on-disk NIfTI-1 header. Field order and sizes follow the
// format exactly so it can be read and written with encoding/binary.
type Header struct {
	SizeofHdr    int32
	DataType     [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte

	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32

	Descrip   [80]byte
	AuxFile   [24]byte
	QformCode int16
	SformCode int16
	QuaternB  float32
	QuaternC  float32
	QuaternD  float32
	QoffsetX  float32
	QoffsetY  float32
	QoffsetZ  float32
	SrowX     [4]float32
	SrowY     [4]float32
	SrowZ     [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

var singleFileMagic = [4]byte{'n', '+', '1', 0}

// byteOrder detects the header byte order from sizeof_hdr.
func byteOrder(raw []byte) (binary.ByteOrder, error) {
	switch {
	case binary.LittleEndian.Uint32(raw) == HeaderSize:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(raw) == HeaderSize:
		return binary.BigEndian, nil
	}
	return nil, errors.New("not a NIfTI-1 header")
}

// Dims returns the spatial dimensions. Missing dimensions are 1. Volumes
// with more than one time point or component are rejected.
func (h *Header) Dims() ([3]int, error) {
	n := int(h.Dim[0])
	if n < 1 || n > 7 {
		return [3]int{}, errors.Errorf("invalid dimension count %d", n)
	}
	dims := [3]int{1, 1, 1}
	for i := 1; i <= n; i++ {
		d := int(h.Dim[i])
		if d < 1 {
			return [3]int{}, errors.Errorf("invalid dim[%d] = %d", i, d)
		}
		if i <= 3 {
			dims[i-1] = d
		} else if d > 1 {
			return [3]int{}, errors.Errorf("only 3D volumes are supported, dim[%d] = %d", i, d)
		}
	}
	return dims, nil
}

// Spacing returns the voxel size along x, y and z.
func (h *Header) Spacing() [3]float64 {
	var s [3]float64
	for i := range s {
		s[i] = float64(h.Pixdim[i+1])
		if s[i] <= 0 {
			s[i] = 1
		}
	}
	return s
}

// scaling returns scl_slope and scl_inter and whether stored values must be
// mapped through them. A zero or non-finite slope means unscaled data; a
// non-finite intercept counts as 0.
func (h *Header) scaling() (slope, inter float64, ok bool) {
	slope, inter = float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || !finite(slope) {
		return 1, 0, false
	}
	if !finite(inter) {
		inter = 0
	}
	return slope, inter, slope != 1 || inter != 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// setDatatype updates datatype and bitpix.
func (h *Header) setDatatype(dt int16) error {
	bits, ok := bitsPerVoxel[dt]
	if !ok {
		return errors.Errorf("unsupported datatype %d", dt)
	}
	h.Datatype = dt
	h.Bitpix = bits
	return nil
}

// NewHeader returns a minimal header for a volume of the given geometry.
func NewHeader(dims [3]int, spacing [3]float64, dt int16) (*Header, error) {
	h := &Header{
		SizeofHdr: HeaderSize,
		Regular:   'r',
		SclSlope:  1,
		Magic:     singleFileMagic,
		XYZTUnits: 2, // mm
	}
	h.Dim[0] = 3
	h.Pixdim[0] = 1
	for i := 0; i < 3; i++ {
		h.Dim[i+1] = int16(dims[i])
		h.Pixdim[i+1] = float32(spacing[i])
	}
	for i := 4; i < 8; i++ {
		h.Dim[i] = 1
	}
	if err := h.setDatatype(dt); err != nil {
		return nil, err
	}
	return h, nil
}
