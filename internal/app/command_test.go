package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/pkg/feedclient"
)

func TestRunCommand(t *testing.T) {
	at := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		cmd  Command
		at   *time.Time
		want string
	}{
		{CmdRegister, nil, "PUT /register"},
		{CmdUnregister, nil, "DELETE /register"},
		{CmdStart, nil, "GET /serv/start?token=tok"},
		{CmdStop, nil, "GET /serv/stop?token=tok"},
		{CmdRestart, nil, "GET /serv/reset?token=tok"},
		{CmdRestart, &at, "GET /serv/reset?date=2024-03-05T09%3A30%3A00&token=tok"},
	}
	for _, tc := range cases {
		t.Run(string(tc.cmd), func(t *testing.T) {
			feed := &fakeFeed{}
			cfg := testConfig(t, feed, 18080)
			if err := RunCommand(context.Background(), cfg, logger.Nop(), tc.cmd, tc.at); err != nil {
				t.Fatalf("RunCommand: %v", err)
			}
			if diff := cmp.Diff([]string{tc.want}, feed.seen()); diff != "" {
				t.Errorf("feed calls (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunCommand_Errors(t *testing.T) {
	feed := &fakeFeed{status: 500}
	cfg := testConfig(t, feed, 18080)
	err := RunCommand(context.Background(), cfg, logger.Nop(), CmdStart, nil)
	var se *feedclient.StatusError
	if !errors.As(err, &se) || se.Code != 500 || !errors.Is(err, feedclient.ErrCommand) {
		t.Fatalf("err = %v, want StatusError 500 wrapping ErrCommand", err)
	}

	err = RunCommand(context.Background(), cfg, logger.Nop(), Command("explode"), nil)
	if !errors.Is(err, feedclient.ErrValidation) {
		t.Fatalf("unknown command err = %v", err)
	}

	cfg.Feed.Secret = ""
	err = RunCommand(context.Background(), cfg, logger.Nop(), CmdStop, nil)
	if !errors.Is(err, feedclient.ErrConfiguration) {
		t.Fatalf("missing secret err = %v", err)
	}
}
