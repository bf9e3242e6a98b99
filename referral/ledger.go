package referral

import (
	"context"
	"sort"
)

// Ledger serves read-only commission views.
type Ledger struct {
	rt *runtime
}

// StatusTotal aggregates rows sharing a status or a level.
type StatusTotal struct {
	Count  int    `json:"count"`
	Amount Amount `json:"amount"`
}

type LevelTotal struct {
	Level int `json:"level"`
	StatusTotal
}

type CommissionSummary struct {
	AffiliateID AffiliateID                      `json:"affiliate_id"`
	ByStatus    map[CommissionStatus]StatusTotal `json:"by_status"`
	ByLevel     []LevelTotal                     `json:"by_level"`
	Total       StatusTotal                      `json:"total"`
}

func (l *Ledger) List(ctx context.Context, f CommissionFilter) ([]Commission, error) {
	return l.rt.store.ListCommissions(ctx, f)
}

func (l *Ledger) Get(ctx context.Context, id CommissionID) (*Commission, error) {
	return loadCommission(ctx, l.rt.store, id)
}

// Summary aggregates an affiliate's rows by status and by level. Rejected
// rows appear under their status but not in Total or ByLevel.
func (l *Ledger) Summary(ctx context.Context, affiliateID AffiliateID) (*CommissionSummary, error) {
	if _, err := (&Network{rt: l.rt}).Get(ctx, affiliateID); err != nil {
		return nil, err
	}
	rows, err := l.rt.store.ListCommissions(ctx, CommissionFilter{AffiliateID: affiliateID})
	if err != nil {
		return nil, err
	}

	s := &CommissionSummary{
		AffiliateID: affiliateID,
		ByStatus:    make(map[CommissionStatus]StatusTotal),
	}
	levels := make(map[int]StatusTotal)
	for _, c := range rows {
		st := s.ByStatus[c.Status]
		st.Count++
		st.Amount += c.Amount
		s.ByStatus[c.Status] = st

		if c.Status == CommissionRejected {
			continue
		}
		lt := levels[c.Level]
		lt.Count++
		lt.Amount += c.Amount
		levels[c.Level] = lt
		s.Total.Count++
		s.Total.Amount += c.Amount
	}

	for level, t := range levels {
		s.ByLevel = append(s.ByLevel, LevelTotal{Level: level, StatusTotal: t})
	}
	sort.Slice(s.ByLevel, func(i, j int) bool { return s.ByLevel[i].Level < s.ByLevel[j].Level })
	return s, nil
}
