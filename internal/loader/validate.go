package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Layout limits accepted by the reader.
const (
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

// ChecksumKey is the metadata key holding the hex SHA-256 of the data section.
const ChecksumKey = "sha256"

var (
	// ErrChecksumMismatch is returned by Verify when the data section was modified.
	ErrChecksumMismatch = errors.New("checksum mismatch: file may be corrupted")

	// ErrOffsetOverlap is returned when two tensors claim overlapping bytes.
	ErrOffsetOverlap = errors.New("tensor offsets overlap")
)

// validateLayout checks the header-wide constraints: entry count, name length
// and that no two non-empty tensors share bytes. Per-entry checks live in
// SafeTensorsReader.validate.
func validateLayout(tensors map[string]TensorInfo) error {
	if len(tensors) > MaxTensorCount {
		return errors.Errorf("%d tensors exceeds limit %d", len(tensors), MaxTensorCount)
	}
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if name == "" || len(name) > MaxTensorNameLen {
			return errors.Errorf("invalid tensor name of length %d", len(name))
		}
		if tensors[name].NumBytes() > 0 {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		return int(tensors[a].DataOffsets[0] - tensors[b].DataOffsets[0])
	})
	for i := 1; i < len(names); i++ {
		prev, cur := tensors[names[i-1]], tensors[names[i]]
		if cur.DataOffsets[0] < prev.DataOffsets[1] {
			return errors.Wrapf(ErrOffsetOverlap, "%q %v and %q %v",
				names[i-1], prev.DataOffsets, names[i], cur.DataOffsets)
		}
	}
	return nil
}

// checksum returns the hex SHA-256 of the concatenated payloads.
func checksum(payloads [][]byte) string {
	h := sha256.New()
	for _, p := range payloads {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the SHA-256 of the data section and compares it with the
// value stored by WriteSafeTensors. Files without a stored checksum, such as
// those written by other tools, pass unverified.
func (r *SafeTensorsReader) Verify() error {
	stored, ok := r.header.Metadata[ChecksumKey]
	if !ok {
		klog.V(1).Info("checkpoint carries no checksum, skipping verification")
		return nil
	}
	if r.file == nil {
		return errors.New("reader is closed")
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r.file, r.dataOffset, r.dataSize)); err != nil {
		return errors.Wrap(err, "hashing data section")
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != stored {
		return errors.Wrapf(ErrChecksumMismatch, "stored %s, computed %s", stored, got)
	}
	return nil
}
