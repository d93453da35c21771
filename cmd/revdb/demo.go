package main

import (
	"context"
	"math/rand/v2"
	"runtime"

	"github.com/outofforest/revdb"
	"github.com/outofforest/revdb/types"
)

const (
	opcodeStatus int32 = 1
	answerStatus int32 = 1
)

type account struct {
	uid     types.UniqueID
	balance int64
}

func (a *account) UniqueID() types.UniqueID {
	return a.uid
}

// demo opens accounts with random balances. Only the latest accounts are kept, so older ones are collected
// by the garbage collector at moments which differ from run to run.
func demo(steps uint32) revdb.Program {
	return func(ctx context.Context, e *revdb.Engine) error {
		var total int64
		var alive uint32
		if err := e.RegisterCommand(revdb.Command{
			Opcode: opcodeStatus,
			Name:   "status",
			Func: func(ctx context.Context, e *revdb.Engine, cmd types.Command, extra []byte) error {
				return e.SendAnswer(answerStatus, total, int64(alive), int64(e.CreatedObjects()), nil)
			},
		}); err != nil {
			return err
		}

		n, err := revdb.Record(e, func() uint32 { return steps })
		if err != nil {
			return err
		}

		closed := e.NewFinalizerQueue(nil)
		var accounts []*account
		var refs []*revdb.WeakRef[account]
		for i := range n {
			balance, err := revdb.Record(e, func() int64 { return rand.Int64N(1000) })
			if err != nil {
				return err
			}
			a := &account{balance: balance}
			if a.uid, err = e.NewUniqueID(a); err != nil {
				return err
			}
			if err := closed.Register(a); err != nil {
				return err
			}
			ref, err := revdb.NewWeakRef(e, a)
			if err != nil {
				return err
			}
			total += balance
			accounts = append(accounts, a)
			refs = append(refs, ref)
			if len(accounts) > 8 {
				accounts[0] = nil
				accounts = accounts[1:]
			}
			if i%16 == 15 {
				runtime.GC()
			}

			if err := e.StopPoint(); err != nil {
				return err
			}

			for {
				obj, err := closed.NextDead()
				if err != nil {
					return err
				}
				if obj == nil {
					break
				}
				total -= obj.(*account).balance
			}

			alive = 0
			for _, ref := range refs {
				a, err := ref.Deref()
				if err != nil {
					return err
				}
				if a != nil {
					alive++
				}
			}
		}
		return nil
	}
}
