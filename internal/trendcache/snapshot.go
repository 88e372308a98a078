package trendcache

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Summary is one ranked post entry in the cached trending snapshot.
type Summary struct {
	PostID    string    `cbor:"post_id"`
	OwnerID   string    `cbor:"owner_id"`
	Rank      int       `cbor:"rank"`
	Score     float64   `cbor:"score"`
	CreatedAt time.Time `cbor:"created_at"`
	Hashtags  []string  `cbor:"hashtags,omitempty"`
}

// Snapshot is the serialized trending list written by each ranking run.
type Snapshot struct {
	Scope      string    `cbor:"scope"`
	ComputedAt time.Time `cbor:"computed_at"`
	Posts      []Summary `cbor:"posts"`
}

// EncodeSnapshot serializes a snapshot to CBOR.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trending snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot deserializes a CBOR snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode trending snapshot: %w", err)
	}
	return &snap, nil
}
