package referral

import (
	"time"

	"go.uber.org/zap"
)

// Options configures an Engine. Zero values pick safe defaults: activation is
// checked against recorded payments, the cache is a 30s MemoryCache, and no
// platform mirroring happens.
type Options struct {
	Schedule      Schedule
	Activation    ActivationVerifier
	Mirror        Dispatcher
	Cache         BalanceCache
	Logger        *zap.Logger
	Clock         func() time.Time
	NewID         func() string
	MinWithdrawal Amount
}

// Engine bundles the components that share one store.
type Engine struct {
	Network     *Network
	Walker      *ChainWalker
	Fanout      *FanoutEngine
	Approvals   *ApprovalWorkflow
	Balances    *BalanceAggregator
	Withdrawals *WithdrawalService
	Debits      *DebitEngine
	Ledger      *Ledger
}

func New(store TxStore, opts Options) (*Engine, error) {
	if err := opts.Schedule.Validate(); err != nil {
		return nil, err
	}
	if opts.MinWithdrawal < 0 {
		return nil, &ValidationError{Field: "min_withdrawal", Message: "must not be negative"}
	}

	rt := &runtime{
		store:  store,
		cache:  opts.Cache,
		gens:   newGenerations(),
		mirror: opts.Mirror,
		log:    opts.Logger,
		now:    opts.Clock,
		newID:  opts.NewID,
	}
	if rt.cache == nil {
		rt.cache = NewMemoryCache(30 * time.Second)
	}
	if rt.mirror == nil {
		rt.mirror = nopDispatcher{}
	}
	if rt.log == nil {
		rt.log = zap.NewNop()
	}
	if rt.now == nil {
		rt.now = time.Now
	}
	if rt.newID == nil {
		rt.newID = defaultID
	}

	activation := opts.Activation
	if activation == nil {
		activation = storeVerifier{store: store}
	}

	walker := NewChainWalker(opts.Schedule.MaxLevel, rt.log)
	debits := &DebitEngine{rt: rt}
	return &Engine{
		Network: &Network{rt: rt},
		Walker:  walker,
		Fanout: &FanoutEngine{
			rt:         rt,
			schedule:   opts.Schedule,
			walker:     walker,
			activation: activation,
		},
		Approvals:   &ApprovalWorkflow{rt: rt},
		Balances:    &BalanceAggregator{rt: rt},
		Withdrawals: &WithdrawalService{rt: rt, minWithdrawal: opts.MinWithdrawal, debits: debits},
		Debits:      debits,
		Ledger:      &Ledger{rt: rt},
	}, nil
}
