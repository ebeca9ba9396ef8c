// Package device defines the BLE capability flowmon depends on: scanning for
// advertisements, dialing a peripheral and subscribing to characteristic
// notifications.
//
// The package holds only contracts and error values:
//   - Transport and Link abstract a BLE central and one live connection
//   - ConnectionError and the sentinel errors classify transport failures
//   - NormalizeUUID gives characteristic UUIDs a single comparable form
//
// The go-ble backed implementation lives in the go-ble subpackage; tests use
// the scriptable fake in internal/testutils.
package device
