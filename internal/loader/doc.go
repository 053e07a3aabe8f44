// Package loader reads and writes attention checkpoints.
//
// A checkpoint is a flat dictionary of named tensors in the slash-separated
// layout the nn modules bind against (e.g. "encoder/attn/query/kernel").
// Two sources implement nn.ParamSource:
//   - SafeTensorsReader: a .safetensors file (F32, F16, BF16 and F64 payloads)
//   - MapSource: an in-memory dictionary
//
// Example:
//
//	r, err := loader.OpenSafeTensors("weights.safetensors")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	if err := mha.LoadWeights(r, "encoder/attn/"); err != nil {
//	    return err
//	}
//
// WriteSafeTensors produces files readable by both this package and the
// Hugging Face safetensors library.
package loader
