package codec

import (
	"encoding/binary"
	"fmt"
)

// ChangeKind classifies the operation that produced a provenance record.
type ChangeKind uint8

const (
	ChangeKindCreate ChangeKind = iota + 1
	ChangeKindUpdate
	ChangeKindDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeKindCreate:
		return "CREATE"
	case ChangeKindUpdate:
		return "UPDATE"
	case ChangeKindDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Provenance is attached to every mutated node: who last wrote it, what
// kind of change it was, and the object version that write produced. The
// commit path skips rewriting a provenance record that would be identical
// to what is already stored, so its byte encoding must be deterministic
// across processes and Go versions.
type Provenance struct {
	Owner      string
	ChangeKind ChangeKind
	Version    int64
}

// ProvenanceCodec marshals Provenance to a fixed-order binary layout
// instead of JSON or protobuf reflection, so two equal values always
// produce byte-identical output and the commit path can compare by
// equality without unmarshaling first.
type ProvenanceCodec struct{}

// Marshal implements Codec. obj must be a Provenance or *Provenance.
func (ProvenanceCodec) Marshal(obj any) ([]byte, error) {
	var p Provenance
	switch v := obj.(type) {
	case Provenance:
		p = v
	case *Provenance:
		p = *v
	default:
		return nil, fmt.Errorf("codec: %T is not a Provenance", obj)
	}

	owner := []byte(p.Owner)
	buf := make([]byte, 0, 4+len(owner)+1+8)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(owner)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, owner...)
	buf = append(buf, byte(p.ChangeKind))
	var verBuf [8]byte
	binary.BigEndian.PutUint64(verBuf[:], uint64(p.Version))
	buf = append(buf, verBuf[:]...)
	return buf, nil
}

// Unmarshal implements Codec. out must be a *Provenance.
func (ProvenanceCodec) Unmarshal(data []byte, out any) error {
	p, ok := out.(*Provenance)
	if !ok {
		return fmt.Errorf("codec: %T is not a *Provenance", out)
	}
	if len(data) < 4 {
		return fmt.Errorf("codec: provenance record truncated")
	}
	ownerLen := binary.BigEndian.Uint32(data[0:4])
	offset := 4 + int(ownerLen)
	if len(data) < offset+1+8 {
		return fmt.Errorf("codec: provenance record truncated")
	}
	p.Owner = string(data[4:offset])
	p.ChangeKind = ChangeKind(data[offset])
	p.Version = int64(binary.BigEndian.Uint64(data[offset+1 : offset+9]))
	return nil
}
