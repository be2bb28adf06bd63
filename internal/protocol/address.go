package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Address identifies one device of one protocol party. Its encoded form
// "name.deviceID" is the key hosts store sessions under, so names may not
// contain '.' themselves.
type Address struct {
	name     string
	deviceID uint32
}

// NewAddress creates a protocol address. Names containing '.' are rejected
// to keep the encoded form unambiguous.
func NewAddress(name string, deviceID uint32) (*Address, error) {
	if strings.Contains(name, ".") {
		return nil, errors.Errorf("protocol: address name %q contains an encoded address", name)
	}
	return &Address{name: name, deviceID: deviceID}, nil
}

// ParseAddress parses the "name.deviceID" encoded form.
func ParseAddress(encoded string) (*Address, error) {
	name, dev, ok := strings.Cut(encoded, ".")
	if !ok {
		return nil, errors.Errorf("protocol: invalid address encoding %q", encoded)
	}
	deviceID, err := strconv.ParseUint(dev, 10, 32)
	if err != nil {
		return nil, errors.Errorf("protocol: invalid device id in address %q", encoded)
	}
	return NewAddress(name, uint32(deviceID))
}

// Name returns the address name (e.g. phone number or UUID).
func (a *Address) Name() string { return a.name }

// DeviceID returns the device ID component of the address.
func (a *Address) DeviceID() uint32 { return a.deviceID }

// String returns the "name.deviceID" encoded form.
func (a *Address) String() string {
	return fmt.Sprintf("%s.%d", a.name, a.deviceID)
}
