/*
walker.go - Referral chain walk

Starting at the purchaser's parent, the walker yields (ancestor, level)
pairs from level 1 upward. For each level the checks run in this order:

  1. no parent (root reached)   -> stop, keep what was produced
  2. level > max level          -> stop
  3. ancestor record not found  -> stop, this level and deeper get nothing
  4. ancestor not ACTIVE        -> stop, this level and deeper get nothing

Rules 3 and 4 are a hard break, not skip-and-continue: an ACTIVE ancestor
above an inactive one is never reached. Level N+1 is never looked up before
level N has been resolved.
*/
package referral

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Termination says why a walk stopped.
type Termination string

const (
	TerminatedAtRoot           Termination = "root"
	TerminatedAtMaxLevel       Termination = "max_level"
	TerminatedMissingAncestor  Termination = "missing_ancestor"
	TerminatedInactiveAncestor Termination = "inactive_ancestor"
)

type ChainLink struct {
	AncestorID AffiliateID
	Level      int
}

type Chain struct {
	Links       []ChainLink
	Termination Termination
	// StoppedAt is the ancestor that ended the walk under rules 3 and 4.
	StoppedAt AffiliateID
}

// ChainWalker reads the upline. It has no side effects.
type ChainWalker struct {
	maxLevel int
	log      *zap.Logger
}

func NewChainWalker(maxLevel int, log *zap.Logger) *ChainWalker {
	if maxLevel < 1 || maxLevel > MaxLevel {
		maxLevel = MaxLevel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChainWalker{maxLevel: maxLevel, log: log}
}

// Walk returns the eligible ancestors of purchaser, nearest first. Store
// errors are returned as-is; a missing record is a termination.
func (w *ChainWalker) Walk(ctx context.Context, affiliates AffiliateStore, purchaser Affiliate) (Chain, error) {
	var chain Chain
	next := purchaser.ParentID()

	for level := 1; ; level++ {
		if next == "" {
			chain.Termination = TerminatedAtRoot
			break
		}
		if level > w.maxLevel {
			chain.Termination = TerminatedAtMaxLevel
			break
		}

		ancestor, err := affiliates.GetAffiliate(ctx, next)
		if err != nil {
			return Chain{}, fmt.Errorf("load ancestor %s at level %d: %w", next, level, err)
		}
		if ancestor == nil {
			chain.Termination = TerminatedMissingAncestor
			chain.StoppedAt = next
			break
		}
		if ancestor.Status != AffiliateStatusActive {
			chain.Termination = TerminatedInactiveAncestor
			chain.StoppedAt = ancestor.ID
			break
		}

		chain.Links = append(chain.Links, ChainLink{AncestorID: ancestor.ID, Level: level})
		next = ancestor.ParentID()
	}

	w.log.Debug("referral chain walked",
		zap.String("purchaser_id", string(purchaser.ID)),
		zap.Int("levels", len(chain.Links)),
		zap.String("termination", string(chain.Termination)),
		zap.String("stopped_at", string(chain.StoppedAt)))
	return chain, nil
}
