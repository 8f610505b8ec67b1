// common/safe/safe.go
package safe

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
)

// PanicError оборачивает значение, полученное из recover().
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap отдаёт исходную ошибку, если паника была вызвана error-значением.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Go запускает fn в отдельной goroutine. Паника перехватывается,
// логируется и передаётся в onPanic (если он задан).
func Go(log *logger.Logger, fn func(), onPanic func(*PanicError)) {
	go Run(log, fn, onPanic)
}

// Run — синхронный вариант Go.
func Run(log *logger.Logger, fn func(), onPanic func(*PanicError)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		pe := &PanicError{Value: r, Stack: debug.Stack()}
		log.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", pe.Stack))
		if onPanic != nil {
			onPanic(pe)
		}
	}()
	fn()
}
