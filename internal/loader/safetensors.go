package loader

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"slices"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxHeaderSize bounds the JSON header a reader accepts.
const maxHeaderSize = 100 << 20

// DType is a safetensors element type tag.
type DType string

// Element types understood by the reader.
const (
	DTypeF16  DType = "F16"
	DTypeBF16 DType = "BF16"
	DTypeF32  DType = "F32"
	DTypeF64  DType = "F64"
)

// Size returns the byte width of one element, or 0 for unsupported tags.
func (d DType) Size() int {
	switch d {
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeF32:
		return 4
	case DTypeF64:
		return 8
	}
	return 0
}

// DataType returns the tensor precision values of this type load into.
// F64 has no tensor counterpart and loads as Float32.
func (d DType) DataType() (tensor.DataType, error) {
	switch d {
	case DTypeF16:
		return tensor.Float16, nil
	case DTypeBF16:
		return tensor.BFloat16, nil
	case DTypeF32, DTypeF64:
		return tensor.Float32, nil
	}
	return tensor.Float32, errors.Wrapf(ErrUnsupportedDType, "%q", string(d))
}

// dtypeFor is the inverse of DType.DataType.
func dtypeFor(dt tensor.DataType) DType {
	switch dt {
	case tensor.Float16:
		return DTypeF16
	case tensor.BFloat16:
		return DTypeBF16
	default:
		return DTypeF32
	}
}

// TensorInfo describes one tensor entry of the header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the data section
}

// NumBytes is the payload size the entry claims.
func (i TensorInfo) NumBytes() int64 {
	return i.DataOffsets[1] - i.DataOffsets[0]
}

// Header is the parsed JSON header of a safetensors file.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// UnmarshalJSON splits the reserved "__metadata__" entry from tensor entries.
func (h *Header) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if meta, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return errors.Wrap(err, "parsing __metadata__")
		}
		delete(raw, "__metadata__")
	}
	h.Tensors = make(map[string]TensorInfo, len(raw))
	for name, value := range raw {
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return errors.Wrapf(err, "parsing entry %q", name)
		}
		h.Tensors[name] = info
	}
	return nil
}

// SafeTensorsReader serves tensors from a safetensors file. Tensors are read
// on demand; Lookup is safe for concurrent use.
type SafeTensorsReader struct {
	file       *os.File
	header     Header
	dataOffset int64
	dataSize   int64
}

// OpenSafeTensors opens path and validates its header. Every entry is checked
// for a supported dtype, a consistent byte range and an in-bounds offset, so
// later lookups only fail on I/O errors.
func OpenSafeTensors(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: checkpoint path is user input by design.
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening checkpoint")
	}
	r, err := newSafeTensorsReader(file)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	klog.V(1).Infof("opened %s: %d tensors", path, len(r.header.Tensors))
	return r, nil
}

func newSafeTensorsReader(file *os.File) (*SafeTensorsReader, error) {
	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "reading header size")
	}
	if headerSize > maxHeaderSize {
		return nil, errors.Errorf("header size %d exceeds limit %d", headerSize, maxHeaderSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, errors.Wrap(err, "parsing header")
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}
	dataOffset := int64(8 + headerSize) //nolint:gosec // bounded by maxHeaderSize.
	r := &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: dataOffset,
		dataSize:   stat.Size() - dataOffset,
	}
	if err := validateLayout(header.Tensors); err != nil {
		return nil, err
	}
	for name, info := range header.Tensors {
		if err := r.validate(name, info); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *SafeTensorsReader) validate(name string, info TensorInfo) error {
	if _, err := info.DType.DataType(); err != nil {
		return errors.Wrapf(err, "tensor %q", name)
	}
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return errors.Wrapf(err, "tensor %q", name)
	}
	want := int64(shape.NumElements() * info.DType.Size())
	if info.DataOffsets[0] < 0 || info.NumBytes() != want {
		return errors.Errorf("tensor %q: data offsets %v do not match %d bytes for shape %v",
			name, info.DataOffsets, want, info.Shape)
	}
	if info.DataOffsets[1] > r.dataSize {
		return errors.Errorf("tensor %q: data offsets %v past end of data (%d bytes)", name, info.DataOffsets, r.dataSize)
	}
	return nil
}

// Close releases the underlying file.
func (r *SafeTensorsReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Metadata returns the free-form string metadata of the file.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// Names returns the tensor names in sorted order.
func (r *SafeTensorsReader) Names() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Info returns the header entry for name.
func (r *SafeTensorsReader) Info(name string) (TensorInfo, bool) {
	info, ok := r.header.Tensors[name]
	return info, ok
}

// Lookup reads and decodes the tensor called name.
func (r *SafeTensorsReader) Lookup(name string) (*tensor.Tensor, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, errors.Wrapf(ErrTensorNotFound, "%q", name)
	}
	if r.file == nil {
		return nil, errors.New("reader is closed")
	}
	raw := make([]byte, info.NumBytes())
	if _, err := r.file.ReadAt(raw, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, errors.Wrapf(err, "reading tensor %q", name)
	}
	return decode(raw, info)
}

// decode converts little-endian payload bytes into a tensor.
func decode(raw []byte, info TensorInfo) (*tensor.Tensor, error) {
	dt, err := info.DType.DataType()
	if err != nil {
		return nil, err
	}
	out := tensor.New(tensor.Shape(info.Shape), dt)
	data := out.Data()
	for i := range data {
		switch info.DType {
		case DTypeF16:
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		case DTypeBF16:
			data[i] = bfloat16.BFloat16(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		case DTypeF32:
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		case DTypeF64:
			data[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:])))
		}
	}
	return out, nil
}

// encode is the inverse of decode for the tensor's own precision.
func encode(t *tensor.Tensor) (DType, []byte) {
	dt := dtypeFor(t.DType())
	src := t.Data()
	raw := make([]byte, len(src)*dt.Size())
	for i, v := range src {
		switch dt {
		case DTypeF16:
			binary.LittleEndian.PutUint16(raw[2*i:], float16.Fromfloat32(v).Bits())
		case DTypeBF16:
			binary.LittleEndian.PutUint16(raw[2*i:], uint16(bfloat16.FromFloat32(v)))
		default:
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
		}
	}
	return dt, raw
}
