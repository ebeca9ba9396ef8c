package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/shlex"

	"github.com/srg/flowmon/internal/app"
	"github.com/srg/flowmon/internal/dashboard"
	"github.com/srg/flowmon/internal/session"
	"github.com/srg/flowmon/scanner"
)

const shellHelp = `Commands:
  scan                      discover flow sensors
  devices                   list scan results and added devices
  add <n>                   add the n-th scan result
  add <address> [name]      add a device by address
  connect <id>              connect and start monitoring
  disconnect <id>           disconnect
  toggle <id>               connect or disconnect
  reset <id>                clear statistics, asks first
  close <id>                remove a device, asks before disconnecting
  log [start|stop]          toggle, start or stop CSV logging
  status                    show the status line and log file
  show                      draw the dashboard once
  help                      show this help
  quit                      disconnect everything and exit
`

// shell reads commands line by line and runs them on the UI loop.
type shell struct {
	app      *app.App
	in       *bufio.Scanner
	out      io.Writer
	renderer *dashboard.Renderer
}

func newShell(a *app.App, in io.Reader, out io.Writer, r *dashboard.Renderer) *shell {
	return &shell{app: a, in: bufio.NewScanner(in), out: out, renderer: r}
}

// run returns on quit, end of input or a read error.
func (sh *shell) run() error {
	for fmt.Fprint(sh.out, "> "); sh.in.Scan(); fmt.Fprint(sh.out, "> ") {
		args, err := shlex.Split(sh.in.Text())
		if err != nil {
			fmt.Fprintf(sh.out, "Invalid command: %s\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		quit, err := sh.exec(args)
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %s\n", FormatUserError(err))
		}
		if quit {
			return nil
		}
	}
	return sh.in.Err()
}

func (sh *shell) exec(args []string) (quit bool, err error) {
	cmd, rest := strings.ToLower(args[0]), args[1:]
	a := sh.app

	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprint(sh.out, shellHelp)
		return false, nil
	case "scan":
		return false, a.Call(a.Scan)
	case "devices", "ls":
		return false, sh.devices()
	case "add":
		return false, sh.add(rest)
	case "connect", "disconnect", "toggle":
		id, err := deviceID(cmd, rest)
		if err != nil {
			return false, err
		}
		op := map[string]func(int) error{
			"connect":    a.Connect,
			"disconnect": a.Disconnect,
			"toggle":     a.ToggleConnection,
		}[cmd]
		return false, a.Call(func() error { return op(id) })
	case "reset":
		return false, sh.reset(rest)
	case "close":
		return false, sh.close(rest)
	case "log":
		return false, sh.log(rest)
	case "status":
		return false, sh.status()
	case "show":
		return false, sh.show()
	}
	return false, fmt.Errorf("%w: %q (try 'help')", ErrUnknownCommand, args[0])
}

func deviceID(cmd string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: %s <id>", ErrUsage, cmd)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
	if err != nil {
		return 0, fmt.Errorf("%w: %s <id>: %q is not a number", ErrUsage, cmd, args[0])
	}
	return id, nil
}

func (sh *shell) add(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("%w: add <n> | add <address> [name]", ErrUsage)
	}

	var id int
	err := sh.app.Call(func() (err error) {
		if n, convErr := strconv.Atoi(args[0]); convErr == nil && len(args) == 1 {
			id, err = sh.app.AddDevice(n - 1)
			return err
		}
		name := ""
		if len(args) == 2 {
			name = args[1]
		}
		id, err = sh.app.AddAddress(args[0], name)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Added device #%d\n", id)
	return nil
}

func (sh *shell) reset(args []string) error {
	id, err := deviceID("reset", args)
	if err != nil {
		return err
	}
	if !sh.confirm(fmt.Sprintf("Reset all statistics for device #%d?", id)) {
		fmt.Fprintln(sh.out, "Cancelled")
		return nil
	}
	if err := sh.app.Call(func() error { return sh.app.Reset(id) }); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Statistics reset for device #%d\n", id)
	return nil
}

func (sh *shell) close(args []string) error {
	id, err := deviceID("close", args)
	if err != nil {
		return err
	}

	closed, err := sh.closeDevice(id, false)
	if errors.Is(err, app.ErrNeedsConfirmation) {
		if !sh.confirm(fmt.Sprintf("Device #%d is connected. Disconnect and close it?", id)) {
			fmt.Fprintln(sh.out, "Cancelled")
			return nil
		}
		closed, err = sh.closeDevice(id, true)
	}
	if err != nil {
		return err
	}
	if closed {
		fmt.Fprintf(sh.out, "Closed device #%d\n", id)
	} else {
		fmt.Fprintf(sh.out, "Disconnecting device #%d, it will be removed once disconnected\n", id)
	}
	return nil
}

func (sh *shell) closeDevice(id int, confirm bool) (closed bool, err error) {
	err = sh.app.Call(func() (callErr error) {
		closed, callErr = sh.app.CloseDevice(id, confirm)
		return callErr
	})
	return closed, err
}

// confirm asks a y/N question on the shell input.
func (sh *shell) confirm(question string) bool {
	fmt.Fprintf(sh.out, "%s [y/N] ", question)
	if !sh.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(sh.in.Text()))
	return answer == "y" || answer == "yes"
}

func (sh *shell) log(args []string) error {
	a := sh.app
	var op func() error
	switch {
	case len(args) == 0, args[0] == "toggle":
		op = a.ToggleLogging
	case args[0] == "start":
		op = a.StartLogging
	case args[0] == "stop":
		op = a.StopLogging
	default:
		return fmt.Errorf("%w: log [start|stop|toggle]", ErrUsage)
	}

	var logging bool
	var path string
	err := a.Call(func() error {
		err := op()
		logging, path = a.Logging(), a.LogPath()
		return err
	})
	if err != nil {
		return err
	}
	if logging {
		fmt.Fprintf(sh.out, "Logging to %s\n", path)
	} else {
		fmt.Fprintln(sh.out, "Logging stopped")
	}
	return nil
}

func (sh *shell) devices() error {
	var available []scanner.Result
	var sessions []session.Snapshot
	if err := sh.app.Call(func() error {
		available = sh.app.Available()
		sessions = sh.app.Registry().Snapshots()
		return nil
	}); err != nil {
		return err
	}

	w := tabwriter.NewWriter(sh.out, 0, 0, 2, ' ', 0)
	if len(available) > 0 {
		fmt.Fprintln(w, "Scan results:")
		for i, r := range available {
			fmt.Fprintf(w, "  %d)\t%s\t%s\t%d dBm\n", i+1, r.Name, r.Address, r.RSSI)
		}
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No devices added")
	} else {
		fmt.Fprintln(w, "Devices:")
		for _, d := range sessions {
			fmt.Fprintf(w, "  #%d\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Address, dashboard.StatusLabel(d),
				dashboard.Flow(d.Stats.Current, d.Stats.HasData()))
		}
	}
	return w.Flush()
}

func (sh *shell) status() error {
	var status, path string
	var logging bool
	if err := sh.app.Call(func() error {
		status, logging, path = sh.app.Status(), sh.app.Logging(), sh.app.LogPath()
		return nil
	}); err != nil {
		return err
	}
	if status == "" {
		status = "Idle"
	}
	fmt.Fprintf(sh.out, "Status: %s\n", status)
	if logging {
		fmt.Fprintf(sh.out, "Logging to %s\n", path)
	} else {
		fmt.Fprintln(sh.out, "Logging: off")
	}
	return nil
}

func (sh *shell) show() error {
	var view dashboard.View
	if err := sh.app.Call(func() error {
		view = sh.app.View()
		return nil
	}); err != nil {
		return err
	}
	return sh.renderer.Draw(view)
}
