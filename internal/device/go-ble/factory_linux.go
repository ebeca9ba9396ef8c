//go:build linux

package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

// hciTimeout bounds listener and dialer operations on the HCI socket.
const hciTimeout = 20 * time.Second

var scanParams = cmd.LESetScanParameters{
	LEScanType:           1,    // Active scanning, FLOW_LOGGER_ names arrive in scan responses
	LEScanInterval:       0x10, // 10ms
	LEScanWindow:         0x10, // 10ms
	OwnAddressType:       0,    // Static
	ScanningFilterPolicy: 0,    // Accept all advertisements
}

func newPlatformDevice() (ble.Device, error) {
	return linux.NewDevice(
		ble.OptListenerTimeout(hciTimeout),
		ble.OptDialerTimeout(hciTimeout),
		ble.OptScanParams(scanParams),
	)
}
