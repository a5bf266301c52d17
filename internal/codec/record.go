package codec

import "fmt"

// Field is one stored metadata field.
type Field struct {
	Name  string   `cbor:"1,keyasint"`
	Items []string `cbor:"2,keyasint"`
	Multi bool     `cbor:"3,keyasint,omitempty"`
}

// Record is the stored form of a version record. Fields keep their
// ingestion order.
type Record struct {
	Name    string  `cbor:"1,keyasint"`
	Version string  `cbor:"2,keyasint"`
	Fields  []Field `cbor:"3,keyasint"`
}

// EncodeRecord marshals and frames a record.
func EncodeRecord(r *Record, tag CompressionTag) ([]byte, error) {
	data, err := Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return Frame(data, tag)
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(framed []byte) (*Record, error) {
	data, err := Unframe(framed)
	if err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	var r Record
	if err := Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &r, nil
}
