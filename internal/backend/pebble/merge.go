package pebble

import (
	"io"
	"slices"

	"github.com/cockroachdb/pebble"

	"github.com/git-pkgs/ministry/internal/codec"
)

// mergerName is persisted in the database options; changing it makes
// existing databases unopenable.
const mergerName = "ministry.set-union"

func mergeSet(_, value []byte) (pebble.ValueMerger, error) {
	m := &setMerger{members: make(map[string]struct{})}
	if err := m.add(value); err != nil {
		return nil, err
	}
	return m, nil
}

// setMerger unions CBOR encoded string lists. Union is commutative, so
// MergeNewer and MergeOlder are the same operation.
type setMerger struct {
	members map[string]struct{}
}

func (m *setMerger) add(value []byte) error {
	var members []string
	if err := codec.Unmarshal(value, &members); err != nil {
		return err
	}
	for _, member := range members {
		m.members[member] = struct{}{}
	}
	return nil
}

func (m *setMerger) MergeNewer(value []byte) error {
	return m.add(value)
}

func (m *setMerger) MergeOlder(value []byte) error {
	return m.add(value)
}

// Finish returns the members sorted, which lets IsMember binary search.
func (m *setMerger) Finish(bool) ([]byte, io.Closer, error) {
	out := make([]string, 0, len(m.members))
	for member := range m.members {
		out = append(out, member)
	}
	slices.Sort(out)
	res, err := codec.Marshal(out)
	return res, nil, err
}
