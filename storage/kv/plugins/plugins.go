package plugins

import (
	"github.com/jrife/tanager/storage/kv"
	"github.com/jrife/tanager/storage/kv/plugins/bbolt"
)

var drivers []kv.Driver

func init() {
	drivers = append(drivers, &kv.MemoryDriver{})
	drivers = append(drivers, bbolt.Drivers()...)
}

// Driver returns the driver whose name matches the given name.
// It returns nil if no such driver is found.
func Driver(name string) kv.Driver {
	for _, driver := range drivers {
		if driver.Name() == name {
			return driver
		}
	}

	return nil
}

// Drivers lists all the drivers that are available
func Drivers() []kv.Driver {
	return drivers
}
