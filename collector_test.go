package revdb

import (
	"context"
	"strconv"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/revdb/types"
)

func TestExplicitCollectorConcurrentRelease(t *testing.T) {
	requireT := require.New(t)

	const count = 100

	collector := NewExplicitCollector()
	objects := make([]*object, 0, count)
	var released []types.UniqueID
	for i := range count {
		o := &object{uid: types.UniqueID(i + 1)}
		objects = append(objects, o)
		collector.SetFinalizer(o, func(obj Object) {
			released = append(released, obj.UniqueID())
		})
	}

	requireT.NoError(parallel.Run(NewContextForTest(t), func(ctx context.Context, spawn parallel.SpawnFn) error {
		for i, o := range objects {
			spawn("release-"+strconv.Itoa(i), parallel.Continue, func(ctx context.Context) error {
				collector.Release(o)
				return nil
			})
		}
		return nil
	}))

	requireT.Len(released, count)
	requireT.ElementsMatch(lo.Map(objects, func(o *object, _ int) types.UniqueID { return o.uid }), released)
	requireT.False(collector.Release(objects[0]))
}
