package main

import (
	"bytes"
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/flowmon/internal/app"
	"github.com/srg/flowmon/internal/device"
	"github.com/srg/flowmon/internal/devicefactory"
	"github.com/srg/flowmon/internal/testutils"
	"github.com/srg/flowmon/pkg/config"
)

// CommandTestSuite swaps the BLE adapter for a FakeTransport.
type CommandTestSuite struct {
	suite.Suite
	Helper    *testutils.TestHelper
	Transport *testutils.FakeTransport

	origFactory func(*logrus.Logger) (device.Transport, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Transport = testutils.NewFakeTransport().WithAdvertisements(
		testutils.FlowAdvertisement(2),
		testutils.FlowAdvertisement(1),
		device.Advertisement{Address: "11:22:33:44:55:66", Name: "Headphones", RSSI: -70},
	)

	s.origFactory = devicefactory.TransportFactory
	devicefactory.TransportFactory = func(*logrus.Logger) (device.Transport, error) {
		return s.Transport, nil
	}

	// cobra keeps flag values in package variables between executions
	scanDuration, scanFormat, scanAll = 0, "", false
	scanAllowList, scanBlockList = nil, nil
	monitorDevices, monitorLog, monitorNoShell = nil, false, false
	monitorMetricsAddr, monitorLogDir = "", ""
	for name, value := range map[string]string{"config": "", "log-level": "", "verbose": "false"} {
		s.Require().NoError(rootCmd.PersistentFlags().Set(name, value))
	}
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.TransportFactory = s.origFactory
}

// ExecuteCommand runs the root command with args and returns stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err = rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// NewApp creates an app over the fake transport with logs in a temp dir.
func (s *CommandTestSuite) NewApp() (*app.App, *config.Config) {
	cfg := config.DefaultConfig()
	cfg.LogDir = s.T().TempDir()
	cfg.ScanTimeout = 50 * time.Millisecond
	cfg.RefreshInterval = 10 * time.Millisecond

	a, err := app.New(app.Options{Config: cfg, Transport: s.Transport, Logger: testutils.QuietLogger()})
	s.Require().NoError(err)
	return a, cfg
}

// RunApp drives the UI loop in the background until the test ends.
func (s *CommandTestSuite) RunApp(a *app.App) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx, nil)
	}()
	s.T().Cleanup(func() {
		cancel()
		<-done
	})
}

