package xkfs

import (
	"fmt"
	"sync"
)

// ConsoleDev is the device id of the console
const ConsoleDev int16 = 1

// Devices is the device switch: a table from device id to driver
type Devices struct {
	mu      sync.RWMutex
	drivers map[int16]Device
}

// Device is a character device reachable through a device inode
type Device interface {
	Read(dst []byte) (int, error)
	Write(src []byte) (int, error)
}

// MaxDevices bounds device ids
const MaxDevices = 10

// NewDevices creates an empty device switch
func NewDevices() *Devices {
	return &Devices{drivers: make(map[int16]Device)}
}

// Register installs d under id
func (d *Devices) Register(id int16, dev Device) error {
	if id < 0 || id >= MaxDevices {
		return fmt.Errorf("%w: device id %d out of range", ErrNoDevice, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drivers[id] = dev
	return nil
}

func (d *Devices) lookup(id int16) (Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoDevice, id)
	}
	return dev, nil
}
