package resume

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-org/internal/mailbox"
)

var errInvalidPayload = errors.New("invalid payload")

type scriptedSender struct {
	results []func() (bool, error)
	calls   int
	ids     []string
}

func (s *scriptedSender) Send(_ context.Context, _ string, msg mailbox.Message) (bool, error) {
	s.ids = append(s.ids, msg.ID)
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		return false, nil
	}
	return s.results[idx]()
}

type lines []string

func (l *lines) Printf(format string, args ...any) {
	*l = append(*l, fmt.Sprintf(format, args...))
}

func accepted() (bool, error)    { return true, nil }
func notAccepted() (bool, error) { return false, nil }
func transient() (bool, error)   { return false, errors.New("cache unavailable") }

func TestSendWithRetryEventuallyAccepted(t *testing.T) {
	sender := &scriptedSender{results: []func() (bool, error){notAccepted, transient, accepted}}
	client := New(sender, WithDelays(time.Millisecond, 5*time.Millisecond))
	msg := mailbox.MustMessage("assignTask", nil)

	ok := client.SendWithRetryN(context.Background(), "ic:run-1", msg, 5, time.Millisecond)

	require.True(t, ok)
	assert.Equal(t, 3, sender.calls)
	for _, id := range sender.ids {
		assert.Equal(t, msg.ID, id)
	}
}

func TestSendWithRetryExhaustsAttempts(t *testing.T) {
	sender := &scriptedSender{}
	client := New(sender, WithAttempts(3), WithDelays(time.Millisecond, 2*time.Millisecond))

	ok := client.SendWithRetry(context.Background(), "ic:run-1", mailbox.MustMessage("assignTask", nil))

	assert.False(t, ok)
	assert.Equal(t, 3, sender.calls)
}

func TestSendWithRetryStopsOnPermanentError(t *testing.T) {
	sender := &scriptedSender{results: []func() (bool, error){
		func() (bool, error) { return false, errInvalidPayload },
		accepted,
	}}
	client := New(sender,
		WithDelays(time.Millisecond, time.Millisecond),
		WithPermanent(func(err error) bool { return errors.Is(err, errInvalidPayload) }),
	)

	ok := client.SendWithRetryN(context.Background(), "ic:run-1", mailbox.MustMessage("assignTask", nil), 5, time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, 1, sender.calls)
}

func TestPermanentErrorIsLoggedAsRejected(t *testing.T) {
	var log lines
	sender := &scriptedSender{results: []func() (bool, error){
		func() (bool, error) { return false, errInvalidPayload },
	}}
	client := New(sender,
		WithLogger(&log),
		WithDelays(time.Millisecond, time.Millisecond),
		WithPermanent(func(err error) bool { return errors.Is(err, errInvalidPayload) }),
	)

	assert.False(t, client.SendWithRetryN(context.Background(), "ic:run-1", mailbox.MustMessage("assignTask", nil), 5, time.Millisecond))
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "rejected")
	assert.Contains(t, log[0], "invalid payload")
}

func TestSendWithRetryInvalidAddressIsPermanent(t *testing.T) {
	sender := &scriptedSender{results: []func() (bool, error){
		func() (bool, error) { return false, mailbox.ErrInvalidAddress },
	}}
	client := New(sender, WithDelays(time.Millisecond, time.Millisecond))

	assert.False(t, client.SendWithRetry(context.Background(), "nope", mailbox.MustMessage("x", nil)))
	assert.Equal(t, 1, sender.calls)
}

func TestSendWithRetryAgainstLateRegistration(t *testing.T) {
	reg := mailbox.NewRegistry()
	sender := SenderFunc(func(_ context.Context, address string, msg mailbox.Message) (bool, error) {
		return reg.Send(address, msg), nil
	})
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = reg.Register(mailbox.NewAddress("manager", "late"))
	}()
	client := New(sender, WithDelays(5*time.Millisecond, 20*time.Millisecond))

	assert.True(t, client.SendWithRetryN(context.Background(), "manager:late", mailbox.MustMessage("addReport", nil), 20, 5*time.Millisecond))
}

func TestNilClientIsNotAccepted(t *testing.T) {
	var c *Client
	assert.NotPanics(t, func() {
		assert.False(t, c.SendWithRetry(context.Background(), "ic:1", mailbox.MustMessage("x", nil)))
		assert.False(t, c.SendWithRetryN(context.Background(), "ic:1", mailbox.MustMessage("x", nil), 2, time.Millisecond))
	})
}
