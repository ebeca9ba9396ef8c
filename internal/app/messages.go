package app

import (
	"time"

	"github.com/srg/flowmon/internal/device"
	"github.com/srg/flowmon/scanner"
)

// message is anything posted to the UI loop through the bridge.
type message interface {
	isMessage()
}

type scanDone struct {
	results []scanner.Result
	err     error
}

type connectDone struct {
	id      int
	link    device.Link
	err     error
	started time.Time
}

type monitorDone struct {
	id       int
	err      error
	totalErr error // the total channel is optional
	started  time.Time
}

type disconnectDone struct {
	id  int
	err error
}

// linkLost reports a link that went away without a Disconnect request.
type linkLost struct {
	id   int
	link device.Link
}

type notification struct {
	id   int
	uuid string
	data []byte
	at   time.Time
}

type invoke struct {
	fn func()
}

func (scanDone) isMessage()       {}
func (connectDone) isMessage()    {}
func (monitorDone) isMessage()    {}
func (disconnectDone) isMessage() {}
func (linkLost) isMessage()       {}
func (notification) isMessage()   {}
func (invoke) isMessage()         {}
