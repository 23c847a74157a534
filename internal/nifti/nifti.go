// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz).
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/volume"
)

// voxOffset is where written files place the voxel data: the header plus
// an empty 4-byte extension block.
const voxOffset = HeaderSize + 4

// Image is a decoded volume together with the header it was read with.
// Values in Volume are already scaled by scl_slope/scl_inter.
type Image struct {
	Header Header
	Volume *volume.Volume
}

// Like returns a zero-filled image with the geometry of img, stored as
// datatype dt and without intensity scaling.
func (img *Image) Like(dt int16) (*Image, error) {
	h := img.Header
	if err := h.setDatatype(dt); err != nil {
		return nil, err
	}
	h.SclSlope, h.SclInter = 1, 0
	h.CalMax, h.CalMin = 0, 0
	return &Image{Header: h, Volume: img.Volume.Like()}, nil
}

// New wraps vol in a fresh header with datatype dt.
func New(vol *volume.Volume, dt int16) (*Image, error) {
	h, err := NewHeader(vol.Dims, vol.Spacing, dt)
	if err != nil {
		return nil, err
	}
	return &Image{Header: *h, Volume: vol}, nil
}

// Load reads a .nii or .nii.gz file.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "nifti")
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "nifti %s", path)
		}
		defer zr.Close()
		r = zr
	}
	img, err := Decode(r)
	return img, errors.Wrapf(err, "nifti %s", path)
}

// LoadVolume reads a file and returns only its volume.
func LoadVolume(path string) (*volume.Volume, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return img.Volume, nil
}

// Decode reads an uncompressed single-file NIfTI-1 stream.
func Decode(r io.Reader) (*Image, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	order, err := byteOrder(raw)
	if err != nil {
		return nil, err
	}

	img := &Image{}
	h := &img.Header
	if err := binary.Read(bytes.NewReader(raw), order, h); err != nil {
		return nil, errors.Wrap(err, "decode header")
	}
	if h.Magic != singleFileMagic {
		return nil, errors.Errorf("unsupported magic %q", h.Magic[:3])
	}
	dims, err := h.Dims()
	if err != nil {
		return nil, err
	}
	bits, ok := bitsPerVoxel[h.Datatype]
	if !ok {
		return nil, errors.Errorf("unsupported datatype %d", h.Datatype)
	}

	skip := int64(h.VoxOffset) - HeaderSize
	if skip < 0 {
		return nil, errors.Errorf("invalid vox_offset %v", h.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, errors.Wrap(err, "skip extensions")
	}

	vol := volume.New(dims)
	vol.Spacing = h.Spacing()
	data := make([]byte, vol.Len()*int(bits)/8)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "read voxels")
	}
	decodeVoxels(vol.Data, data, h.Datatype, order)

	if slope, inter, ok := h.scaling(); ok {
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}
	img.Volume = vol
	return img, nil
}

func decodeVoxels(dst []float64, src []byte, dt int16, order binary.ByteOrder) {
	for i := range dst {
		switch dt {
		case Uint8:
			dst[i] = float64(src[i])
		case Int8:
			dst[i] = float64(int8(src[i]))
		case Int16:
			dst[i] = float64(int16(order.Uint16(src[2*i:])))
		case Uint16:
			dst[i] = float64(order.Uint16(src[2*i:]))
		case Int32:
			dst[i] = float64(int32(order.Uint32(src[4*i:])))
		case Uint32:
			dst[i] = float64(order.Uint32(src[4*i:]))
		case Float32:
			dst[i] = float64(math.Float32frombits(order.Uint32(src[4*i:])))
		case Float64:
			dst[i] = math.Float64frombits(order.Uint64(src[8*i:]))
		}
	}
}

// Encode writes img as little-endian single-file NIfTI-1. Values are
// stored as-is: intensity scaling is reset.
func Encode(w io.Writer, img *Image) error {
	h := img.Header
	if err := h.setDatatype(h.Datatype); err != nil {
		return err
	}
	dims := img.Volume.Dims
	h.SizeofHdr = HeaderSize
	h.Magic = singleFileMagic
	h.VoxOffset = voxOffset
	h.SclSlope, h.SclInter = 1, 0
	h.Dim[0] = 3
	for i := 0; i < 3; i++ {
		h.Dim[i+1] = int16(dims[i])
	}
	for i := 4; i < 8; i++ {
		h.Dim[i] = 1
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := w.Write(make([]byte, voxOffset-HeaderSize)); err != nil {
		return errors.Wrap(err, "write extension")
	}
	data := make([]byte, img.Volume.Len()*int(h.Bitpix)/8)
	encodeVoxels(data, img.Volume.Data, h.Datatype)
	_, err := w.Write(data)
	return errors.Wrap(err, "write voxels")
}

func encodeVoxels(dst []byte, src []float64, dt int16) {
	le := binary.LittleEndian
	for i, v := range src {
		switch dt {
		case Uint8:
			dst[i] = uint8(clampRound(v, 0, math.MaxUint8))
		case Int8:
			dst[i] = uint8(int8(clampRound(v, math.MinInt8, math.MaxInt8)))
		case Int16:
			le.PutUint16(dst[2*i:], uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
		case Uint16:
			le.PutUint16(dst[2*i:], uint16(clampRound(v, 0, math.MaxUint16)))
		case Int32:
			le.PutUint32(dst[4*i:], uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
		case Uint32:
			le.PutUint32(dst[4*i:], uint32(clampRound(v, 0, math.MaxUint32)))
		case Float32:
			le.PutUint32(dst[4*i:], math.Float32bits(float32(v)))
		case Float64:
			le.PutUint64(dst[8*i:], math.Float64bits(v))
		}
	}
}

func clampRound(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

// Save writes img to path, gzip-compressed when path ends in .gz. The file
// is written under a temporary name and renamed into place.
func Save(path string, img *Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "nifti")
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp, path, img); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "nifti %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "nifti %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "nifti %s", path)
}

func write(f *os.File, path string, img *Image) error {
	bw := bufio.NewWriter(f)
	if !strings.HasSuffix(path, ".gz") {
		if err := Encode(bw, img); err != nil {
			return err
		}
		return bw.Flush()
	}

	zw := gzip.NewWriter(bw)
	if err := Encode(zw, img); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}
