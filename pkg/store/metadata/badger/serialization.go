package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Serialization Strategy
// ======================
//
// BadgerDB stores raw bytes. Records (entities, recycle entries, share links,
// access records, accounts) are JSON encoded: human-readable and tolerant of
// added fields. Index values that are a single UUID or integer use fixed-size
// binary encoding.

// encodeJSON serializes a record for storage.
func encodeJSON(kind string, v any) ([]byte, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return bytes, nil
}

// decodeJSON deserializes a record read from storage.
func decodeJSON(kind string, bytes []byte, v any) error {
	if err := json.Unmarshal(bytes, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return nil
}

// encodeUUID returns the 16 raw bytes of id.
func encodeUUID(id uuid.UUID) []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}

// decodeUUID parses 16 raw bytes.
func decodeUUID(bytes []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(bytes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode uuid: %w", err)
	}
	return id, nil
}

// encodeInt64 encodes a limit value as 8 big-endian bytes.
func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// decodeInt64 decodes a limit value.
func decodeInt64(bytes []byte) (int64, error) {
	if len(bytes) != 8 {
		return 0, fmt.Errorf("invalid int64 length: %d", len(bytes))
	}
	return int64(binary.BigEndian.Uint64(bytes)), nil
}
