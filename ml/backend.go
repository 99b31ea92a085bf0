// backend.go - Treiber-Interface und Registrierung fuer Compute-Geraete
// Dieses Modul definiert das Driver-Interface und die Factory-Funktionen.
package ml

import (
	"fmt"
	"slices"
	"sync"
)

// Driver enumerates the devices of one platform library (host, OpenCL, ...).
type Driver interface {
	Name() string

	// Devices opens every device the driver can see. The caller owns the
	// returned devices and must Close them.
	Devices() ([]Device, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]func() (Driver, error))
)

// RegisterDriver registers a driver factory function.
func RegisterDriver(name string, f func() (Driver, error)) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if _, ok := drivers[name]; ok {
		panic("ml: driver already registered: " + name)
	}

	drivers[name] = f
}

// Drivers returns the names of all registered drivers in sorted order.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OpenDriver creates a new instance of the named driver.
func OpenDriver(name string) (Driver, error) {
	driversMu.RLock()
	f, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoDriver, name)
	}

	return f()
}
