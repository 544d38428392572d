package persistence

import (
	"errors"
	"fmt"
	"sort"

	"github.com/giongto35/cloud-classroom/pkg/whiteboard"
	"github.com/goccy/go-json"
)

// Schema is the snapshot format version written by this package.
const Schema = 1

var (
	ErrSchema    = errors.New("unsupported snapshot schema")
	ErrDuplicate = errors.New("duplicate record")
)

// Snapshot is the persisted state of a whiteboard.
// The encoding is deterministic: records are sorted by id, so decoding and
// encoding a stored snapshot gives the same bytes.
type Snapshot struct {
	Schema  int                 `json:"schema"`
	Version int64               `json:"version"`
	Records []whiteboard.Record `json:"records"`
}

// NewSnapshot makes the next version of a snapshot from the records.
func NewSnapshot(version int64, records []whiteboard.Record) Snapshot {
	return Snapshot{Schema: Schema, Version: version, Records: records}
}

func (s Snapshot) Empty() bool { return len(s.Records) == 0 }

// Encode sorts the records and encodes the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	records := make([]whiteboard.Record, len(s.Records))
	copy(records, s.Records)
	if err := sortUnique(records); err != nil {
		return nil, err
	}
	s.Records = records
	if s.Schema == 0 {
		s.Schema = Schema
	}
	return json.Marshal(s)
}

// Decode parses a stored snapshot, every record is validated.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	if s.Schema < 1 || s.Schema > Schema {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSchema, s.Schema)
	}
	if s.Records == nil {
		s.Records = []whiteboard.Record{}
	}
	if err := sortUnique(append([]whiteboard.Record(nil), s.Records...)); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// sortUnique sorts the records by id in place and fails on a repeated id.
func sortUnique(records []whiteboard.Record) error {
	sort.Slice(records, func(i, j int) bool { return records[i].Id < records[j].Id })
	for i := 1; i < len(records); i++ {
		if records[i].Id == records[i-1].Id {
			return fmt.Errorf("%w: %v", ErrDuplicate, records[i].Id)
		}
	}
	return nil
}
