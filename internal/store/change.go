package store

import "github.com/rickgao/coin-tracker/internal/model"

// ChangeKind identifies a change stream value.
type ChangeKind int

const (
	ChangeInitial ChangeKind = iota + 1
	ChangeUpdate
	ChangeError
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInitial:
		return "initial"
	case ChangeUpdate:
		return "update"
	case ChangeError:
		return "error"
	default:
		return "unknown"
	}
}

// Change is one value on a subscription. Records is the full snapshot after
// the change and is shared between subscribers; treat it as read-only.
type Change struct {
	Kind          ChangeKind
	Records       []model.CoinRecord
	Deletions     []int // Ascending, into the previous snapshot
	Insertions    []int // Ascending, into Records
	Modifications []int // Ascending, into Records
	Err           error // ChangeError only
}

// Empty reports whether an update carries no row changes.
func (c Change) Empty() bool {
	return len(c.Deletions) == 0 && len(c.Insertions) == 0 && len(c.Modifications) == 0
}

// Apply replays c onto prev, a mirror of the previous snapshot, and returns
// the new list. It returns ErrIndexOutOfRange when c does not fit prev.
func Apply(prev []model.CoinRecord, c Change) ([]model.CoinRecord, error) {
	if c.Kind == ChangeInitial {
		return append([]model.CoinRecord(nil), c.Records...), nil
	}
	if c.Kind != ChangeUpdate {
		return prev, nil
	}

	out := append([]model.CoinRecord(nil), prev...)
	for i := len(c.Deletions) - 1; i >= 0; i-- {
		idx := c.Deletions[i]
		if idx < 0 || idx >= len(out) {
			return nil, ErrIndexOutOfRange
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	for _, idx := range c.Insertions {
		if idx < 0 || idx > len(out) || idx >= len(c.Records) {
			return nil, ErrIndexOutOfRange
		}
		out = append(out, model.CoinRecord{})
		copy(out[idx+1:], out[idx:])
		out[idx] = c.Records[idx]
	}
	for _, idx := range c.Modifications {
		if idx < 0 || idx >= len(out) || idx >= len(c.Records) {
			return nil, ErrIndexOutOfRange
		}
		out[idx] = c.Records[idx]
	}
	return out, nil
}
