// Package resume delivers messages to actors whose inbox may not be open yet,
// retrying with exponential backoff.
package resume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"

	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 200 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
)

var (
	errNotAccepted = errors.New("resume: not accepted")
	errPermanent   = errors.New("resume: permanent")
)

// Sender is the single-attempt delivery primitive, usually the actor runtime.
type Sender interface {
	Send(ctx context.Context, address string, msg mailbox.Message) (bool, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, address string, msg mailbox.Message) (bool, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, address string, msg mailbox.Message) (bool, error) {
	return f(ctx, address, msg)
}

// Option customizes a Client.
type Option func(*Client)

// WithAttempts sets the default attempt budget.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithDelays sets the first backoff delay and its cap.
func WithDelays(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.initialDelay = initial
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithLogger records exhausted deliveries.
func WithLogger(logger logging.Printer) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// WithPermanent classifies errors that must not be retried, such as payload
// validation failures. Invalid addresses are always permanent.
func WithPermanent(fn func(error) bool) Option {
	return func(c *Client) {
		c.permanent = fn
	}
}

// Client wraps a Sender with bounded retries.
type Client struct {
	sender       Sender
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	permanent    func(error) bool
	logger       logging.Printer
}

// New constructs a retry client around sender.
func New(sender Sender, opts ...Option) *Client {
	c := &Client{
		sender:       sender,
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		logger:       logging.Nop{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SendWithRetry delivers msg using the client's configured budget.
func (c *Client) SendWithRetry(ctx context.Context, address string, msg mailbox.Message) bool {
	if c == nil {
		return false
	}
	return c.SendWithRetryN(ctx, address, msg, c.maxAttempts, c.initialDelay)
}

// SendWithRetryN attempts delivery up to maxAttempts times, sleeping roughly
// initialDelay*2^attempt between tries. Not-accepted results and transient
// errors are retried; permanent errors end the attempt immediately. The
// message keeps its ID across attempts so a delivery that succeeded behind a
// transient error is deduplicated by the inbox.
func (c *Client) SendWithRetryN(ctx context.Context, address string, msg mailbox.Message, maxAttempts int, initialDelay time.Duration) bool {
	if c == nil || c.sender == nil {
		return false
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = c.initialDelay
	}
	maxDelay := c.maxDelay
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	attempts := 0
	retrier := retry.NewRetrier(maxAttempts, initialDelay, maxDelay)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		attempts++
		accepted, err := c.sender.Send(ctx, address, msg)
		switch {
		case err != nil && c.isPermanent(err):
			return retry.Stop(fmt.Errorf("%w: %w", errPermanent, err))
		case err != nil:
			return err
		case !accepted:
			return errNotAccepted
		}
		return nil
	})
	if errors.Is(err, errPermanent) {
		c.logger.Printf("resume: %s to %s rejected: %v", msg.Type, address, err)
		return false
	}
	if err != nil {
		c.logger.Printf("resume: %s to %s not accepted after %d attempt(s): %v", msg.Type, address, attempts, err)
		return false
	}
	return true
}

func (c *Client) isPermanent(err error) bool {
	if errors.Is(err, mailbox.ErrInvalidAddress) {
		return true
	}
	return c.permanent != nil && c.permanent(err)
}
