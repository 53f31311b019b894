package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github-telegram-notifier/internal/log"
)

// ErrDispatcherStopped is returned by Enqueue after Stop has been called.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// TransientSendError marks a delivery failure worth retrying: network
// trouble, timeouts, rate limiting.
type TransientSendError struct {
	Err error
}

func (e *TransientSendError) Error() string {
	return fmt.Sprintf("transient send failure: %v", e.Err)
}

func (e *TransientSendError) Unwrap() error {
	return e.Err
}

// PermanentSendError marks a delivery failure that will not succeed on retry:
// the chat is gone or has blocked the bot.
type PermanentSendError struct {
	Err error
}

func (e *PermanentSendError) Error() string {
	return fmt.Sprintf("permanent send failure: %v", e.Err)
}

func (e *PermanentSendError) Unwrap() error {
	return e.Err
}

// MessageSender is the chat transport collaborator. Implementations classify
// failures by returning *TransientSendError or *PermanentSendError; any other
// error is treated as transient.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// DispatcherConfig holds retry and queueing knobs for the Dispatcher.
type DispatcherConfig struct {
	MaxAttempts int           // attempts per message, including the first
	BaseDelay   time.Duration // backoff after the first failure, doubled per attempt
	SendTimeout time.Duration // deadline per attempt
	QueueSize   int           // buffered messages per chat
}

// Dispatcher delivers outbound messages with retry and per-chat ordering.
// Each chat gets its own worker goroutine and queue, so messages for one chat
// are sent in order while unrelated chats proceed in parallel, and one chat's
// failures never block the others.
type Dispatcher struct {
	sender MessageSender
	cfg    DispatcherConfig

	mu      sync.Mutex
	queues  map[int64]chan string
	stopped bool

	wg    sync.WaitGroup // worker goroutines
	enqWG sync.WaitGroup // in-flight Enqueue calls
	done  chan struct{}
}

// NewDispatcher creates a Dispatcher. Workers are spawned lazily per chat on
// first Enqueue.
func NewDispatcher(sender MessageSender, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	return &Dispatcher{
		sender: sender,
		cfg:    cfg,
		queues: make(map[int64]chan string),
		done:   make(chan struct{}),
	}
}

// Enqueue queues one message for a chat. Blocks when the chat's queue is full,
// providing backpressure to the caller. Returns ErrDispatcherStopped after
// Stop; a nil return means the message will be delivered or retried, never
// silently dropped.
func (d *Dispatcher) Enqueue(chatID int64, text string) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	// Registering under the lock keeps Stop from closing done until this
	// call has finished buffering.
	d.enqWG.Add(1)
	defer d.enqWG.Done()

	q, ok := d.queues[chatID]
	if !ok {
		q = make(chan string, d.cfg.QueueSize)
		d.queues[chatID] = q
		d.wg.Add(1)
		go d.worker(chatID, q)
	}
	d.mu.Unlock()

	select {
	case q <- text:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	}
}

// Stop drains all per-chat queues and waits for in-flight deliveries. Calls
// to Enqueue admitted before Stop complete their buffering first, so their
// messages are part of the drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.enqWG.Wait()
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) worker(chatID int64, q chan string) {
	defer d.wg.Done()

	for {
		select {
		case text := <-q:
			d.deliver(chatID, text)
		case <-d.done:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case text := <-q:
					d.deliver(chatID, text)
				default:
					return
				}
			}
		}
	}
}

// deliver attempts one message with bounded retries and exponential backoff.
// Permanent failures are reported and dropped; a message that exhausts its
// attempts is abandoned so it cannot wedge the chat's queue.
func (d *Dispatcher) deliver(chatID int64, text string) {
	ctx := context.Background()
	delay := d.cfg.BaseDelay

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.attemptSend(ctx, chatID, text)
		if err == nil {
			log.Debug(ctx, "Message delivered", "chat_id", chatID, "attempt", attempt)
			return
		}

		var perm *PermanentSendError
		if errors.As(err, &perm) {
			log.Error(ctx, "Permanent delivery failure, dropping message",
				"error", err,
				"chat_id", chatID,
				"attempt", attempt,
			)
			return
		}

		log.Warn(ctx, "Transient delivery failure",
			"error", err,
			"chat_id", chatID,
			"attempt", attempt,
		)

		if attempt < d.cfg.MaxAttempts && delay > 0 {
			time.Sleep(delay)
			delay *= 2
		}
	}

	log.Error(ctx, "Delivery abandoned after max attempts",
		"chat_id", chatID,
		"attempts", d.cfg.MaxAttempts,
	)
}

// attemptSend runs a single send under the per-attempt deadline. An attempt
// that overruns its deadline reports a transient failure rather than hanging.
func (d *Dispatcher) attemptSend(ctx context.Context, chatID int64, text string) error {
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	return d.sender.SendMessage(ctx, chatID, text)
}
