package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/internal/config"
	"github.com/YaganovValera/feedbridge/pkg/feedclient"
)

// Command — разовая операция над feed-сервером из CLI.
type Command string

const (
	CmdRegister   Command = "register"
	CmdUnregister Command = "unregister"
	CmdStart      Command = "start"
	CmdStop       Command = "stop"
	CmdRestart    Command = "restart"
)

// RunCommand выполняет одну команду без HTTP-сервера. at используется
// только для restart (nil → без даты).
func RunCommand(ctx context.Context, cfg *config.Config, log *logger.Logger, cmd Command, at *time.Time, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	ccfg, err := cfg.ClientConfig(log, o.doer)
	if err != nil {
		return err
	}
	client, err := feedclient.New(ccfg)
	if err != nil {
		return fmt.Errorf("feed client init: %w", err)
	}

	switch cmd {
	case CmdRegister:
		err = client.Connect(ctx)
	case CmdUnregister:
		err = client.Disconnect(ctx)
	case CmdStart:
		err = client.Start(ctx)
	case CmdStop:
		err = client.Stop(ctx)
	case CmdRestart:
		err = client.Restart(ctx, at)
	default:
		return fmt.Errorf("%w: unknown command %q", feedclient.ErrValidation, cmd)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	log.WithContext(ctx).Info("feed command done", zap.String("command", string(cmd)))
	return nil
}
