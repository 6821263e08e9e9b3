package events

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToEverySubscriber(t *testing.T) {
	bus := NewBus(10)
	ctx := context.Background()

	var got []string
	bus.Subscribe(TypePlanApproved, func(_ context.Context, e Event) error {
		got = append(got, "first:"+e.PlanID)
		return nil
	})
	bus.Subscribe(TypePlanApproved, func(_ context.Context, e Event) error {
		got = append(got, "second:"+e.PlanID)
		return nil
	})

	published := bus.Publish(ctx, Event{Type: TypePlanApproved, Source: "test", PlanID: "p1"})

	require.NotEmpty(t, published.ID)
	require.False(t, published.OccurredAt.IsZero())
	assert.Equal(t, []string{"first:p1", "second:p1"}, got)
}

func TestPublishIsolatesPanickingHandler(t *testing.T) {
	bus := NewBus(10)
	ctx := context.Background()

	delivered := 0
	bus.Subscribe(TypeExecutionStarted, func(context.Context, Event) error {
		panic("boom")
	})
	bus.Subscribe(TypeExecutionStarted, func(context.Context, Event) error {
		return errors.New("handler failed")
	})
	bus.Subscribe(TypeExecutionStarted, func(context.Context, Event) error {
		delivered++
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish(ctx, Event{Type: TypeExecutionStarted, Source: "test"})
	})
	assert.Equal(t, 1, delivered)
}

func TestPublishSkipsOtherTypes(t *testing.T) {
	bus := NewBus(10)

	called := false
	bus.Subscribe(TypeDepositDetected, func(context.Context, Event) error {
		called = true
		return nil
	})

	bus.Publish(context.Background(), Event{Type: TypeWalletLinked, Source: "test"})
	assert.False(t, called)
}

func TestHistoryFiltersByTypeAndBoundsCapacity(t *testing.T) {
	bus := NewBus(4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bus.Publish(ctx, Event{Type: TypeExecutionStarted, Source: "test", PlanID: fmt.Sprintf("s%d", i)})
		bus.Publish(ctx, Event{Type: TypeExecutionCompleted, Source: "test", PlanID: fmt.Sprintf("c%d", i)})
	}

	all := bus.History("", 0)
	require.Len(t, all, 4)
	assert.Equal(t, "s1", all[0].PlanID)

	completed := bus.History(TypeExecutionCompleted, 0)
	require.Len(t, completed, 2)
	assert.Equal(t, "c1", completed[0].PlanID)
	assert.Equal(t, "c2", completed[1].PlanID)

	limited := bus.History(TypeExecutionCompleted, 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "c2", limited[0].PlanID)
}
