package localstore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/stemsi/techassess/internal/model"
)

// Snapshots are stored with deterministic CBOR so identical answers produce
// identical bytes. Time keeps nanoseconds so SavedAt comparisons survive a
// round trip.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("localstore: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("localstore: cbor decoder: " + err.Error())
	}
}

func encodeSnapshot(s model.Snapshot) ([]byte, error) {
	b, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

func decodeSnapshot(b []byte) (model.Snapshot, error) {
	var s model.Snapshot
	if err := decMode.Unmarshal(b, &s); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
