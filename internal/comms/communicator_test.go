package comms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/events"
	"github.com/stackvest/strategy-sagas/internal/pkg/fault"
)

func newTestCommunicator(t *testing.T) *Communicator {
	t.Helper()
	return New(audit.NewLog(100), events.NewBus(100), Config{})
}

func TestCallSuccess(t *testing.T) {
	comm := newTestCommunicator(t)
	comm.Register("strategy", func(_ context.Context, method, payload string) (string, error) {
		assert.Equal(t, "validate_plan", method)
		return `{"status":"validated"}`, nil
	})

	res := comm.Call(context.Background(), Envelope{
		Target: "strategy", Method: "validate_plan", Payload: `{"plan_id":"p1"}`,
	})

	require.True(t, res.OK())
	assert.Equal(t, CallSuccess, res.Status)
	assert.NotEmpty(t, res.CorrelationID)
	assert.Equal(t, `{"status":"validated"}`, res.Payload)
	assert.NoError(t, res.Err)
}

func TestCallUnregisteredTargetIsError(t *testing.T) {
	comm := newTestCommunicator(t)

	res := comm.Call(context.Background(), Envelope{Target: "nowhere", Method: "anything"})

	assert.Equal(t, CallError, res.Status)
	assert.Error(t, res.Err)
}

func TestCallRetriesTransientFailuresThenExhausts(t *testing.T) {
	comm := newTestCommunicator(t)
	attempts := 0
	comm.Register("execution", func(context.Context, string, string) (string, error) {
		attempts++
		return "", fault.Internal("broker unavailable")
	})

	res := comm.Call(context.Background(), Envelope{
		Target: "execution", Method: "execute_plan", MaxRetries: 2,
	})

	assert.Equal(t, CallRetryExhausted, res.Status)
	assert.Equal(t, 3, attempts)
}

func TestCallRecoversAfterTransientFailure(t *testing.T) {
	comm := newTestCommunicator(t)
	attempts := 0
	comm.Register("portfolio", func(context.Context, string, string) (string, error) {
		attempts++
		if attempts < 2 {
			return "", fault.Internal("connection reset")
		}
		return `{"ok":true}`, nil
	})

	res := comm.Call(context.Background(), Envelope{
		Target: "portfolio", Method: "get_portfolio", MaxRetries: 3,
	})

	require.True(t, res.OK())
	assert.Equal(t, 2, attempts)
}

func TestCallPermanentFaultSkipsRetries(t *testing.T) {
	comm := newTestCommunicator(t)
	attempts := 0
	comm.Register("strategy", func(context.Context, string, string) (string, error) {
		attempts++
		return "", fault.InvalidInput("malformed plan")
	})

	res := comm.Call(context.Background(), Envelope{
		Target: "strategy", Method: "validate_plan", MaxRetries: 5,
	})

	assert.Equal(t, CallError, res.Status)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, fault.KindInvalidInput, fault.KindOf(res.Err))
}

func TestCallTimeout(t *testing.T) {
	comm := newTestCommunicator(t)
	comm.Register("account", func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	res := comm.Call(context.Background(), Envelope{
		Target: "account", Method: "notify_user",
		Timeout: 10 * time.Millisecond, MaxRetries: 1,
	})

	assert.Equal(t, CallTimeout, res.Status)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}

func TestCallShieldsPanickingInvoker(t *testing.T) {
	comm := newTestCommunicator(t)
	comm.Register("risk", func(context.Context, string, string) (string, error) {
		panic("nil map write")
	})

	var res CallResult
	require.NotPanics(t, func() {
		res = comm.Call(context.Background(), Envelope{Target: "risk", Method: "evaluate_portfolio"})
	})
	assert.Equal(t, CallRetryExhausted, res.Status)
}

func TestCallAuditsOutcome(t *testing.T) {
	log := audit.NewLog(100)
	comm := New(log, events.NewBus(10), Config{})
	comm.Register("strategy", func(context.Context, string, string) (string, error) {
		return "ok", nil
	})

	res := comm.Call(context.Background(), Envelope{Target: "strategy", Method: "validate_plan"})

	trail := log.Trail(0)
	require.Len(t, trail, 2)
	assert.Equal(t, audit.ActionCallStarted, trail[0].Action)
	assert.Equal(t, audit.ActionCallSucceeded, trail[1].Action)
	assert.Equal(t, res.CorrelationID, trail[0].TransactionID)
}

func TestInvokeSurfacesError(t *testing.T) {
	comm := newTestCommunicator(t)
	comm.Register("strategy", func(context.Context, string, string) (string, error) {
		return "", fault.NotFound("no such plan")
	})

	_, err := comm.Invoke(context.Background(), "strategy", "cancel_plan", "{}")
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestPublishEventStampsSourceAndAudits(t *testing.T) {
	log := audit.NewLog(10)
	comm := New(log, events.NewBus(10), Config{})

	e := comm.PublishEvent(context.Background(), events.Event{
		Type: events.TypeExecutionStarted, UserID: "u1", PlanID: "p1",
	}, "execution-coordinator")

	assert.Equal(t, "execution-coordinator", e.Source)
	trail := log.Trail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionEventPublished, trail[0].Action)
	assert.Equal(t, "u1", trail[0].UserID)
}
