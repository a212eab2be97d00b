package hooks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwire-kernel/kernel/hooks"
)

func fixtureEvent() hooks.Event {
	return hooks.NewErrorEvent(1_000, "test", errors.New("boom"))
}

func TestBus_PublishDeliversToAllSubscribersInRegistrationOrder(t *testing.T) {
	bus := hooks.NewBus()
	var order []int

	_, err := bus.Register(hooks.SubscriberFunc(func(context.Context, hooks.Event) error {
		order = append(order, 1)
		return nil
	}))
	require.NoError(t, err)
	_, err = bus.Register(hooks.SubscriberFunc(func(context.Context, hooks.Event) error {
		order = append(order, 2)
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), fixtureEvent()))
	assert.Equal(t, []int{1, 2}, order)
}

func TestBus_PublishStopsAtFirstSubscriberError(t *testing.T) {
	bus := hooks.NewBus()
	var secondCalled bool

	_, err := bus.Register(hooks.SubscriberFunc(func(context.Context, hooks.Event) error {
		return errors.New("first fails")
	}))
	require.NoError(t, err)
	_, err = bus.Register(hooks.SubscriberFunc(func(context.Context, hooks.Event) error {
		secondCalled = true
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(context.Background(), fixtureEvent())
	assert.Error(t, err)
	assert.False(t, secondCalled, "delivery must stop at the first subscriber error")
}

func TestBus_RegisterRejectsNilSubscriber(t *testing.T) {
	bus := hooks.NewBus()
	_, err := bus.Register(nil)
	assert.ErrorIs(t, err, hooks.ErrNilSubscriber)
}

func TestBus_SubscriptionCloseStopsFurtherDelivery(t *testing.T) {
	bus := hooks.NewBus()
	var calls int
	sub, err := bus.Register(hooks.SubscriberFunc(func(context.Context, hooks.Event) error {
		calls++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), fixtureEvent()))
	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(context.Background(), fixtureEvent()))

	assert.Equal(t, 1, calls)
}

func TestBus_SubscriptionCloseIsIdempotent(t *testing.T) {
	bus := hooks.NewBus()
	sub, err := bus.Register(hooks.SubscriberFunc(func(context.Context, hooks.Event) error { return nil }))
	require.NoError(t, err)

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())
}

func TestBus_PublishWithNoSubscribersSucceeds(t *testing.T) {
	bus := hooks.NewBus()
	assert.NoError(t, bus.Publish(context.Background(), fixtureEvent()))
}
