// Package diff deduplicates snapshot batches and classifies records against
// stored state.
package diff

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enforcement-sync/internal/model"
)

// StateReader is the slice of the state store the diff needs.
type StateReader interface {
	GetStates(ctx context.Context, t model.RecordType, keys []string) (map[string]*model.StateRow, error)
}

// Dedup collapses duplicate identity keys. Records are stable-sorted by
// identity key ascending, then signature descending, and the last record of
// each key wins: the lowest signature survives ("COMPLIED" beats "OPEN").
// The survivor does not depend on input order. The result is sorted by key.
func Dedup(records []*model.Record, signatureField string) []*model.Record {
	if len(records) == 0 {
		return nil
	}
	sorted := make([]*model.Record, len(records))
	copy(sorted, records)

	sort.SliceStable(sorted, func(i, j int) bool {
		ki, kj := sorted[i].Key(), sorted[j].Key()
		if ki != kj {
			return ki < kj
		}
		si, sj := sorted[i].Signature(signatureField), sorted[j].Signature(signatureField)
		if si != sj {
			return si > sj
		}
		// Full ties fall back to the content hash so identical
		// (key, signature) pairs still resolve the same way every run.
		return sorted[i].ContentHash < sorted[j].ContentHash
	})

	out := make([]*model.Record, 0, len(sorted))
	for i, r := range sorted {
		if i+1 < len(sorted) && sorted[i+1].Key() == r.Key() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Compute classifies an already deduplicated batch against stored state in
// one bulk fetch. Unchanged records produce no Change. Output follows the
// input order, which is key order when the input came from Dedup.
func Compute(ctx context.Context, states StateReader, t model.RecordType, records []*model.Record, signatureField string) ([]model.Change, error) {
	if len(records) == 0 {
		return nil, nil
	}

	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key()
	}

	existing, err := states.GetStates(ctx, t, keys)
	if err != nil {
		return nil, eris.Wrapf(err, "diff: fetch %s state", t)
	}

	var changes []model.Change
	for _, r := range records {
		sig := r.Signature(signatureField)
		prior, ok := existing[r.Key()]
		if !ok {
			changes = append(changes, model.Change{
				Key:          r.Key(),
				Record:       r,
				NewSignature: sig,
				IsNew:        true,
			})
			continue
		}
		if prior.Signature == sig {
			continue
		}
		prev := prior.Signature
		changes = append(changes, model.Change{
			Key:           r.Key(),
			Record:        r,
			PrevSignature: &prev,
			NewSignature:  sig,
			Prior:         prior,
		})
	}
	return changes, nil
}
