package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// unitOfWork is the Store handed to engine code inside a transaction. Every
// commission or withdrawal write is recorded so the owner's cached balance is
// invalidated once the transaction commits, and new commissions are mirrored.
// Engines never write through anything else.
type unitOfWork struct {
	Store
	touched map[AffiliateID]struct{}
	created []Commission
}

func newUnitOfWork(s Store) *unitOfWork {
	return &unitOfWork{Store: s, touched: make(map[AffiliateID]struct{})}
}

func (u *unitOfWork) touch(id AffiliateID) { u.touched[id] = struct{}{} }

func (u *unitOfWork) InsertCommission(ctx context.Context, c Commission) error {
	if err := u.Store.InsertCommission(ctx, c); err != nil {
		return err
	}
	u.touch(c.AffiliateID)
	u.created = append(u.created, c)
	return nil
}

func (u *unitOfWork) UpdateCommission(ctx context.Context, c Commission) error {
	if err := u.Store.UpdateCommission(ctx, c); err != nil {
		return err
	}
	u.touch(c.AffiliateID)
	return nil
}

func (u *unitOfWork) InsertWithdrawal(ctx context.Context, w Withdrawal) error {
	if err := u.Store.InsertWithdrawal(ctx, w); err != nil {
		return err
	}
	u.touch(w.UserID)
	return nil
}

func (u *unitOfWork) UpdateWithdrawal(ctx context.Context, w Withdrawal) error {
	if err := u.Store.UpdateWithdrawal(ctx, w); err != nil {
		return err
	}
	u.touch(w.UserID)
	return nil
}

// runtime is shared by every engine.
type runtime struct {
	store  TxStore
	cache  BalanceCache
	gens   *generations
	mirror Dispatcher
	log    *zap.Logger
	now    func() time.Time
	newID  func() string
}

func (r *runtime) clock() time.Time { return r.now().UTC() }

// run executes fn in one store transaction, then invalidates every touched
// balance and dispatches created commissions. Nothing after commit can fail
// the call.
func (r *runtime) run(ctx context.Context, fn func(*unitOfWork) error) error {
	var uow *unitOfWork
	err := r.store.WithTx(ctx, func(s Store) error {
		uow = newUnitOfWork(s)
		return fn(uow)
	})
	if err != nil {
		return err
	}

	if len(uow.touched) > 0 {
		ids := make([]AffiliateID, 0, len(uow.touched))
		for id := range uow.touched {
			ids = append(ids, id)
		}
		r.gens.bump(ids...)
		if err := r.cache.Invalidate(ctx, ids...); err != nil {
			r.log.Error("balance cache invalidation failed", zap.Int("users", len(ids)), zap.Error(err))
		}
	}
	for _, c := range uow.created {
		r.mirror.Dispatch(c)
	}
	return nil
}

func defaultID() string { return uuid.NewString() }
