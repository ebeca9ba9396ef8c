package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/flowmon/internal/device"
	goble "github.com/srg/flowmon/internal/device/go-ble"
)

// TransportFactory opens the BLE transport used by the CLI commands.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(logger *logrus.Logger) (device.Transport, error) {
	transport, err := goble.NewTransport(logger)
	if err != nil {
		return nil, err
	}
	return transport, nil
}
