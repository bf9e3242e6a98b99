/*
network.go - Referral graph maintenance and traversal

REGISTRATION:
  A node is created once with its parent and never re-parented. Before the
  insert, the proposed parent's upline is walked (bounded, with a visited
  set); reaching the new ID means the insert would close a loop.

DOWNLINE:
  Iterative breadth-first traversal over an explicit frontier, one level at
  a time, bounded by depth and guarded by a visited set. Malformed or very
  deep graphs cannot grow the call stack.
*/
package referral

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// maxUplineScan bounds the cycle check walk. Real chains are far shorter.
const maxUplineScan = 10_000

type Network struct {
	rt *runtime
}

// DownlineStats summarises an affiliate's downline.
type DownlineStats struct {
	RootID AffiliateID
	// PerLevel[i] is the number of nodes at depth i+1.
	PerLevel []int
	Total    int
	Active   int
	Depth    int
}

// Register creates a PENDING node under parentID. An empty parentID creates
// a root.
func (n *Network) Register(ctx context.Context, id, parentID AffiliateID, code string) (*Affiliate, error) {
	id = AffiliateID(strings.TrimSpace(string(id)))
	if id == "" {
		return nil, &ValidationError{Field: "id", Message: "is required"}
	}
	if id == parentID {
		return nil, fmt.Errorf("affiliate %s cannot refer itself: %w", id, ErrCycle)
	}

	var created Affiliate
	err := n.rt.run(ctx, func(tx *unitOfWork) error {
		if parentID != "" {
			parent, err := tx.GetAffiliate(ctx, parentID)
			if err != nil {
				return fmt.Errorf("load parent: %w", err)
			}
			if parent == nil {
				return &NotFoundError{Kind: "affiliate", ID: string(parentID)}
			}
			if err := checkNoCycle(ctx, tx, id, *parent); err != nil {
				return err
			}
		}

		created = NewAffiliate(id, parentID, code)
		created.CreatedAt = n.rt.clock()
		if err := tx.CreateAffiliate(ctx, created); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.rt.log.Info("affiliate registered",
		zap.String("affiliate_id", string(id)),
		zap.String("parent_id", string(parentID)))
	return &created, nil
}

// checkNoCycle walks parent's upline looking for id.
func checkNoCycle(ctx context.Context, s AffiliateStore, id AffiliateID, parent Affiliate) error {
	visited := map[AffiliateID]bool{parent.ID: true}
	next := parent.ParentID()
	for steps := 0; next != ""; steps++ {
		if next == id || visited[next] || steps >= maxUplineScan {
			return fmt.Errorf("registering %s under %s: %w", id, parent.ID, ErrCycle)
		}
		visited[next] = true

		a, err := s.GetAffiliate(ctx, next)
		if err != nil {
			return fmt.Errorf("load ancestor %s: %w", next, err)
		}
		if a == nil {
			return nil
		}
		next = a.ParentID()
	}
	return nil
}

// Get returns a node or a NotFoundError.
func (n *Network) Get(ctx context.Context, id AffiliateID) (*Affiliate, error) {
	a, err := n.rt.store.GetAffiliate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load affiliate: %w", err)
	}
	if a == nil {
		return nil, &NotFoundError{Kind: "affiliate", ID: string(id)}
	}
	return a, nil
}

func (n *Network) List(ctx context.Context) ([]Affiliate, error) {
	return n.rt.store.ListAffiliates(ctx)
}

// SetStatus applies an admin status change. PENDING -> ACTIVE is not an
// admin transition; activation happens on the first qualifying purchase.
func (n *Network) SetStatus(ctx context.Context, id AffiliateID, status AffiliateStatus) (*Affiliate, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	var updated Affiliate
	err := n.rt.run(ctx, func(tx *unitOfWork) error {
		a, err := tx.GetAffiliate(ctx, id)
		if err != nil {
			return fmt.Errorf("load affiliate: %w", err)
		}
		if a == nil {
			return &NotFoundError{Kind: "affiliate", ID: string(id)}
		}
		if err := a.adminTransition(status); err != nil {
			return err
		}
		if err := tx.SetAffiliateStatus(ctx, id, status, n.rt.clock()); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		a, err = tx.GetAffiliate(ctx, id)
		if err != nil {
			return fmt.Errorf("reload affiliate %s: %w", id, err)
		}
		if a == nil {
			return &NotFoundError{Kind: "affiliate", ID: string(id)}
		}
		updated = *a
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.rt.log.Info("affiliate status changed",
		zap.String("affiliate_id", string(id)),
		zap.String("status", string(status)))
	return &updated, nil
}

// Downline counts the nodes below rootID up to maxDepth levels. A maxDepth
// below 1 means MaxLevel.
func (n *Network) Downline(ctx context.Context, rootID AffiliateID, maxDepth int) (*DownlineStats, error) {
	if _, err := n.Get(ctx, rootID); err != nil {
		return nil, err
	}
	if maxDepth < 1 {
		maxDepth = MaxLevel
	}

	stats := &DownlineStats{RootID: rootID}
	visited := map[AffiliateID]bool{rootID: true}
	frontier := []AffiliateID{rootID}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []AffiliateID
		for _, parentID := range frontier {
			children, err := n.rt.store.ListChildren(ctx, parentID)
			if err != nil {
				return nil, fmt.Errorf("list children of %s: %w", parentID, err)
			}
			for _, c := range children {
				if visited[c.ID] {
					continue
				}
				visited[c.ID] = true
				next = append(next, c.ID)
				if c.Status == AffiliateStatusActive {
					stats.Active++
				}
			}
		}
		if len(next) == 0 {
			break
		}
		stats.PerLevel = append(stats.PerLevel, len(next))
		stats.Total += len(next)
		stats.Depth = depth
		frontier = next
	}
	return stats, nil
}
