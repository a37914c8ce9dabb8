package leave

import "github.com/warp/leave-engine/generic"

// =============================================================================
// DUPLICATE / PREVIEW GUARD
// =============================================================================

// DetectDuplicates returns a copy of rows with Duplicate set for every row that
// an existing policy grant already covers (same user, leave type and date).
// Pure and idempotent: flags depend only on the inputs, and a row already
// flagged stays flagged.
func DetectDuplicates(rows []PreviewRow, existing []Grant) []PreviewRow {
	seen := make(map[GrantKey]struct{}, len(existing))
	for _, g := range existing {
		if g.Source != SourcePolicy {
			continue
		}
		seen[g.Key()] = struct{}{}
	}

	out := make([]PreviewRow, len(rows))
	for i, r := range rows {
		key := GrantKey{UserID: r.UserID, LeaveTypeID: r.LeaveTypeID, GrantedOn: r.GrantedOn, Source: SourcePolicy}
		if _, dup := seen[key]; dup {
			r.Duplicate = true
		}
		out[i] = r
	}
	return out
}

// PreviewTotals summarizes a preview the way a commit would count it.
type PreviewTotals struct {
	Rows       int   `json:"rows"`
	Grantable  int   `json:"grantable"`
	Duplicates int   `json:"duplicates"`
	Ineligible int   `json:"ineligible"`
	Minutes    int64 `json:"minutes"`
}

func Totals(rows []PreviewRow) PreviewTotals {
	t := PreviewTotals{Rows: len(rows)}
	for _, r := range rows {
		switch {
		case r.Committable():
			t.Grantable++
			t.Minutes += r.QuantityMinutes
		case r.Duplicate:
			t.Duplicates++
		default:
			t.Ineligible++
		}
	}
	return t
}

// grantedOnMatches guards commits against rows computed for another date.
func grantedOnMatches(r PreviewRow, grantDate generic.Date) bool {
	return r.GrantedOn.Equal(grantDate)
}
