package physical

import "github.com/golang/snappy"

// SnappyPacker compresses and decompresses physical block payloads with
// github.com/golang/snappy, the compress/pack step of the WRITING state
// and the decompress step of VERIFYING (§4.1).
type SnappyPacker struct {
	// MinSaving is the minimum fraction of bytes a compressed payload
	// must shave off before it is worth storing compressed; below this
	// the packer reports compressed=false and stores the data raw,
	// mirroring the real packer's refusal to ship a near-incompressible
	// block through the slotted compressed-block path.
	MinSaving float64
}

// NewSnappyPacker returns a packer that only accepts a compression
// result that saves at least 10% of the payload.
func NewSnappyPacker() *SnappyPacker {
	return &SnappyPacker{MinSaving: 0.10}
}

func (p *SnappyPacker) Compress(data []byte) ([]byte, bool) {
	out := snappy.Encode(nil, data)
	if float64(len(out)) > float64(len(data))*(1-p.MinSaving) {
		return data, false
	}
	return out, true
}

func (p *SnappyPacker) Decompress(data []byte, wasCompressed bool) ([]byte, error) {
	if !wasCompressed {
		return data, nil
	}
	return snappy.Decode(nil, data)
}
