package feedclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/common/safe"
	"github.com/YaganovValera/feedbridge/pkg/envelope"
)

// Event names a handler slot.
type Event string

const (
	EventError  Event = "error"
	EventStatus Event = "status"
	EventData   Event = "data"
)

// RequestMeta describes the inbound push that produced an event.
type RequestMeta struct {
	RemoteAddr string
	RequestID  string
	UserAgent  string
	ReceivedAt time.Time
}

type (
	ErrorHandler  func(err error)
	StatusHandler func(ctx context.Context, signal string, meta RequestMeta)
	DataHandler   func(ctx context.Context, data *envelope.Data, meta RequestMeta)
)

// handlerSet holds the three slots. Inbound requests read them
// concurrently with On*, hence the lock.
type handlerSet struct {
	mu     sync.RWMutex
	logErr ErrorHandler // default, restored by OnError(nil)
	err    ErrorHandler
	status StatusHandler
	data   DataHandler
}

func newHandlerSet(log *logger.Logger) *handlerSet {
	logErr := func(err error) {
		log.Error("feed client error", zap.Error(err))
	}
	return &handlerSet{
		logErr: logErr,
		err:    logErr,
		status: func(context.Context, string, RequestMeta) {},
		data:   func(context.Context, *envelope.Data, RequestMeta) {},
	}
}

func (h *handlerSet) snapshot() (ErrorHandler, StatusHandler, DataHandler) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err, h.status, h.data
}

// OnError replaces the error handler. nil restores the default, which logs.
func (c *Client) OnError(fn ErrorHandler) {
	c.handlers.mu.Lock()
	if fn == nil {
		fn = c.handlers.logErr
	}
	c.handlers.err = fn
	c.handlers.mu.Unlock()
}

// OnStatus replaces the signal handler.
func (c *Client) OnStatus(fn StatusHandler) {
	if fn == nil {
		fn = func(context.Context, string, RequestMeta) {}
	}
	c.handlers.mu.Lock()
	c.handlers.status = fn
	c.handlers.mu.Unlock()
}

// OnData replaces the data handler.
func (c *Client) OnData(fn DataHandler) {
	if fn == nil {
		fn = func(context.Context, *envelope.Data, RequestMeta) {}
	}
	c.handlers.mu.Lock()
	c.handlers.data = fn
	c.handlers.mu.Unlock()
}

// On binds h to the slot named ev. An unknown name or a handler of the
// wrong type leaves every slot untouched; the ErrValidation is reported to
// the current error handler and returned.
func (c *Client) On(ev Event, h any) error {
	var err error
	switch ev {
	case EventError:
		switch fn := h.(type) {
		case ErrorHandler:
			c.OnError(fn)
		case func(error):
			c.OnError(fn)
		default:
			err = wrongHandler(ev, h)
		}
	case EventStatus:
		switch fn := h.(type) {
		case StatusHandler:
			c.OnStatus(fn)
		case func(context.Context, string, RequestMeta):
			c.OnStatus(fn)
		default:
			err = wrongHandler(ev, h)
		}
	case EventData:
		switch fn := h.(type) {
		case DataHandler:
			c.OnData(fn)
		case func(context.Context, *envelope.Data, RequestMeta):
			c.OnData(fn)
		default:
			err = wrongHandler(ev, h)
		}
	default:
		err = fmt.Errorf("%w: unknown event name %q", ErrValidation, string(ev))
	}
	if err != nil {
		c.reportError(err)
	}
	return err
}

func wrongHandler(ev Event, h any) error {
	return fmt.Errorf("%w: handler for %q has type %T", ErrValidation, string(ev), h)
}

// reportError hands err to the error handler; a panicking error handler
// is only logged.
func (c *Client) reportError(err error) {
	onErr, _, _ := c.handlers.snapshot()
	safe.Run(c.log, func() { onErr(err) }, nil)
}
