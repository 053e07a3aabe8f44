package loader

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/tensor"
)

// headerAlignment pads the JSON header so the data section starts 8-byte aligned.
const headerAlignment = 8

// WriteSafeTensors writes tensors to path. Entries are laid out in name
// order; each tensor keeps its own precision (Float16 as F16, BFloat16 as
// BF16, Float32 as F32).
func WriteSafeTensors(path string, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	//nolint:gosec // G304: output path is user input by design.
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating checkpoint")
	}
	w := bufio.NewWriter(file)
	n, err := Encode(w, tensors, metadata)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	klog.V(1).Infof("wrote %d tensors to %s (%s)", len(tensors), path, humanize.Bytes(uint64(n))) //nolint:gosec // n >= 0
	return nil
}

// Encode serializes tensors in safetensors format to w and returns the number
// of bytes written. The SHA-256 of the data section is stored under
// ChecksumKey in the metadata, replacing any caller-supplied value.
func Encode(w io.Writer, tensors map[string]*tensor.Tensor, metadata map[string]string) (int64, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if name == "__metadata__" {
			return 0, errors.Errorf("tensor name %q is reserved", name)
		}
		if tensors[name] == nil {
			return 0, errors.Errorf("tensor %q is nil", name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(names)+1)
	payloads := make([][]byte, len(names))
	var offset int64
	for i, name := range names {
		t := tensors[name]
		dt, raw := encode(t)
		payloads[i] = raw
		header[name] = TensorInfo{
			DType:       dt,
			Shape:       t.Shape(),
			DataOffsets: [2]int64{offset, offset + int64(len(raw))},
		}
		offset += int64(len(raw))
	}
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[ChecksumKey] = checksum(payloads)
	header["__metadata__"] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return 0, errors.Wrap(err, "encoding header")
	}
	for len(headerJSON)%headerAlignment != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	var written int64
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return written, errors.Wrap(err, "writing header size")
	}
	written += 8
	n, err := w.Write(headerJSON)
	written += int64(n)
	if err != nil {
		return written, errors.Wrap(err, "writing header")
	}
	for i, raw := range payloads {
		n, err := w.Write(raw)
		written += int64(n)
		if err != nil {
			return written, errors.Wrapf(err, "writing tensor %q", names[i])
		}
	}
	return written, nil
}
