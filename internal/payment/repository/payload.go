package repository

import (
	"fmt"

	"github.com/golang/snappy"
)

// EncodePayload compresses a raw webhook body for storage. The ledger digest
// is always computed over the raw bytes.
func EncodePayload(raw []byte) []byte {
	return snappy.Encode(nil, raw)
}

func DecodePayload(stored []byte) ([]byte, error) {
	raw, err := snappy.Decode(nil, stored)
	if err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return raw, nil
}
