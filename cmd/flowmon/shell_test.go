package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/flowmon/internal/app"
	"github.com/srg/flowmon/internal/dashboard"
	"github.com/srg/flowmon/internal/registry"
	"github.com/srg/flowmon/internal/session"
)

type ShellTestSuite struct {
	CommandTestSuite
	app *app.App
	out *bytes.Buffer
}

func (s *ShellTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.app, _ = s.NewApp()
	s.RunApp(s.app)
	s.out = &bytes.Buffer{}
}

// shell builds a shell whose confirmations read from input.
func (s *ShellTestSuite) shell(input string) *shell {
	return newShell(s.app, strings.NewReader(input), s.out, dashboard.NewRenderer(s.out, dashboard.Options{}))
}

func (s *ShellTestSuite) exec(line string) error {
	args := strings.Fields(line)
	quit, err := s.shell("").exec(args)
	s.False(quit)
	return err
}

func (s *ShellTestSuite) state(id int) session.State {
	var st session.State
	s.Require().NoError(s.app.Call(func() error {
		sess, err := s.app.Registry().Get(id)
		if err != nil {
			return err
		}
		st = sess.State()
		return nil
	}))
	return st
}

func (s *ShellTestSuite) scanned() {
	s.Require().NoError(s.exec("scan"))
	s.Helper.WaitUntil(2*time.Second, "scan MUST finish", func() bool {
		var n int
		_ = s.app.Call(func() error { n = len(s.app.Available()); return nil })
		return n == 2
	})
}

func (s *ShellTestSuite) TestAddConnectAndList() {
	s.scanned()

	s.Require().NoError(s.exec("add 2"))
	s.Contains(s.out.String(), "Added device #1")
	s.Require().NoError(s.exec("add 11:22:33:44:55:66 Bench"))

	s.Require().NoError(s.exec("connect #1"))
	s.Helper.WaitUntil(2*time.Second, "device MUST be monitoring", func() bool { return s.state(1) == session.Monitoring })

	s.out.Reset()
	s.Require().NoError(s.exec("devices"))
	out := s.out.String()
	s.Contains(out, "Scan results:")
	s.Contains(out, "1)")
	s.Contains(out, "FLOW_LOGGER_2")
	s.Contains(out, "Monitoring")
	s.Contains(out, "Bench")
}

func (s *ShellTestSuite) TestUsageErrors() {
	s.ErrorIs(s.exec("connect"), ErrUsage)
	s.ErrorIs(s.exec("connect one"), ErrUsage)
	s.ErrorIs(s.exec("log sideways"), ErrUsage)
	s.ErrorIs(s.exec("add"), ErrUsage)
	s.ErrorIs(s.exec("launch"), ErrUnknownCommand)
	s.ErrorIs(s.exec("add 1"), app.ErrNoScanResults)
}

func (s *ShellTestSuite) TestCloseAsksBeforeDisconnecting() {
	s.scanned()
	s.Require().NoError(s.exec("add 1"))
	s.Require().NoError(s.exec("connect 1"))
	s.Helper.WaitUntil(2*time.Second, "device MUST be monitoring", func() bool { return s.state(1) == session.Monitoring })

	_, err := s.shell("n\n").exec([]string{"close", "1"})
	s.Require().NoError(err)
	s.Contains(s.out.String(), "[y/N]")
	s.Contains(s.out.String(), "Cancelled")
	s.Equal(session.Monitoring, s.state(1))

	_, err = s.shell("y\n").exec([]string{"close", "1"})
	s.Require().NoError(err)
	s.Helper.WaitUntil(2*time.Second, "device MUST be removed", func() bool {
		var has bool
		_ = s.app.Call(func() error { has = s.app.Registry().Has(1); return nil })
		return !has
	})
}

func (s *ShellTestSuite) TestResetAsksFirst() {
	s.scanned()
	s.Require().NoError(s.exec("add 1"))

	_, err := s.shell("\n").exec([]string{"reset", "1"})
	s.Require().NoError(err)
	s.Contains(s.out.String(), "Cancelled", "reset MUST default to no")

	_, err = s.shell("yes\n").exec([]string{"reset", "1"})
	s.Require().NoError(err)
	s.Contains(s.out.String(), "Statistics reset for device #1")

	_, err = s.shell("y\n").exec([]string{"reset", "9"})
	s.ErrorIs(err, registry.ErrUnknownDevice)
}

func (s *ShellTestSuite) TestLogging() {
	s.ErrorContains(s.exec("log"), "no connected devices")

	s.scanned()
	s.Require().NoError(s.exec("add 1"))
	s.Require().NoError(s.exec("connect 1"))
	s.Helper.WaitUntil(2*time.Second, "device MUST be monitoring", func() bool { return s.state(1) == session.Monitoring })

	s.Require().NoError(s.exec("log start"))
	s.Contains(s.out.String(), "Logging to ")
	s.Require().NoError(s.exec("status"))
	s.Contains(s.out.String(), "ALL_DEVICES_")
	s.Require().NoError(s.exec("log stop"))
	s.Contains(s.out.String(), "Logging stopped")
}

func (s *ShellTestSuite) TestRun_ReadsUntilQuit() {
	sh := newShell(s.app, strings.NewReader("help\n\n'unterminated\nshow\nquit\nstatus\n"), s.out, dashboard.NewRenderer(s.out, dashboard.Options{}))
	s.Require().NoError(sh.run())

	out := s.out.String()
	s.Contains(out, "Commands:")
	s.Contains(out, "Invalid command")
	s.Contains(out, "flowmon")
	s.NotContains(out, "Status:", "commands after quit MUST NOT run")
}

func TestShellTestSuite(t *testing.T) {
	suite.Run(t, new(ShellTestSuite))
}

type MonitorTestSuite struct {
	CommandTestSuite
}

func (s *MonitorTestSuite) TestMonitor_AutoConnectAndLog() {
	a, cfg := s.NewApp()
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		opts := monitorOptions{devices: []string{"AA:BB:CC:DD:EE:01=Kitchen"}, log: true}
		errc <- monitor(ctx, a, opts, dashboard.NewRenderer(&out, dashboard.Options{}), strings.NewReader(""), &out, s.Helper.Logger)
	}()

	s.Helper.WaitUntil(3*time.Second, "logging MUST start once the device is monitoring", func() bool {
		var logging bool
		_ = a.Call(func() error { logging = a.Logging(); return nil })
		return logging
	})
	cancel()
	s.Require().NoError(<-errc)

	s.Contains(out.String(), "Kitchen")
	files, err := filepath.Glob(filepath.Join(cfg.LogDir, "ALL_DEVICES_*.csv"))
	s.Require().NoError(err)
	s.Require().Len(files, 1)
	data, err := os.ReadFile(files[0])
	s.Require().NoError(err)
	s.True(strings.HasPrefix(string(data), "Timestamp,Kitchen_Flow(L/min),Kitchen_Total(L)"))
	s.Equal(1, s.Transport.Link("AA:BB:CC:DD:EE:01").Disconnects(), "shutdown MUST disconnect")
}

func (s *MonitorTestSuite) TestMonitor_ShellQuitStopsLoop() {
	a, _ := s.NewApp()
	var out bytes.Buffer

	err := monitor(context.Background(), a, monitorOptions{shell: true}, dashboard.NewRenderer(&out, dashboard.Options{}),
		strings.NewReader("status\nquit\n"), &out, s.Helper.Logger)
	s.Require().NoError(err)
	s.Contains(out.String(), "Status: Idle")

	select {
	case <-a.Done():
	default:
		s.Fail("app MUST be shut down")
	}
}

func (s *MonitorTestSuite) TestMonitor_InvalidDevice() {
	_, _, err := s.ExecuteCommand("monitor", "--no-shell", "--device", "=Kitchen")
	s.ErrorContains(err, "device address is empty")
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
