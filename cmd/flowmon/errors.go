package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/flowmon/internal/app"
	"github.com/srg/flowmon/internal/device"
)

// Command-level errors
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// FormatUserError turns errors into a one-line hint for the terminal.
func FormatUserError(err error) string {
	var failure *app.Failure
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off, enable it and try again"
	case errors.Is(err, device.ErrUnsupportedOS), errors.Is(err, device.ErrNoTransport):
		return fmt.Sprintf("no usable BLE adapter: %v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.As(err, &failure):
		return fmt.Sprintf("%s error: %v", failure.Kind, failure.Err)
	}
	return err.Error()
}
