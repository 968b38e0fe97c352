package host

import (
	"fmt"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/pkg"
)

// ClassDriver is the callback set of a registered class driver.
//
// Check runs with the dispatcher lock held and must not call back into
// the Host. Every other callback runs after the lock is released and may
// submit transfers.
type ClassDriver interface {
	// Init is called once when the driver is registered in slot.
	Init(h *Host, slot int) error
	// Check reports whether the driver claims iface of dev.
	Check(dev *Device, iface *InterfaceDescriptor) bool
	// Configure is called once dev is configured and the slot's pipes are
	// bound to its endpoints.
	Configure(dev *Device)
	// Detach is called after every transfer on the slot's pipes has been
	// terminated.
	Detach(dev *Device)
	Suspend(dev *Device)
	Resume(dev *Device)
}

// DeviceID selects a device by vendor and product.
type DeviceID struct {
	VendorID  uint16
	ProductID uint16
}

// PipeDef reserves a hardware pipe for one endpoint of the claimed
// interface. The first endpoint of matching type and direction is bound.
type PipeDef struct {
	Pipe int
	Type hal.TransferType
	In   bool
}

// Registration describes a class driver to the host.
type Registration struct {
	InterfaceClass uint8
	// Targets restricts the driver to the listed devices. Empty matches
	// every device.
	Targets []DeviceID
	Pipes   []PipeDef
	Driver  ClassDriver
}

// DriverState is the binding state of a registration.
type DriverState uint8

// Registration binding states.
const (
	DriverDetached DriverState = iota
	DriverDefault
	DriverConfigured
)

// String returns the state name.
func (s DriverState) String() string {
	switch s {
	case DriverDetached:
		return "detached"
	case DriverDefault:
		return "default"
	case DriverConfigured:
		return "configured"
	default:
		return "unknown"
	}
}

// Binding is the live device bound to a registration slot.
type Binding struct {
	Port      int
	Address   hal.DeviceAddress
	State     DriverState
	Interface uint8
}

type driverSlot struct {
	used bool
	reg  Registration
	bind Binding
	cfgs []hal.PipeConfig // Pending pipe configuration, indexed like reg.Pipes
}

// RegisterClassDriver adds reg to the registration table and calls its
// Init. It may be called repeatedly to register several instances of one
// class driver, each with its own pipes.
func (h *Host) RegisterClassDriver(reg Registration) (int, error) {
	h.lock()
	slot, err := h.register(reg)
	h.unlock()
	if err != nil {
		return -1, err
	}

	if err := reg.Driver.Init(h, slot); err != nil {
		h.lock()
		h.drivers[slot] = driverSlot{}
		h.unlock()
		return -1, err
	}

	pkg.LogDebug(pkg.ComponentHost, "class driver registered",
		"slot", slot,
		"class", reg.InterfaceClass,
		"pipes", len(reg.Pipes))
	return slot, nil
}

func (h *Host) register(reg Registration) (int, error) {
	if reg.Driver == nil {
		return -1, fmt.Errorf("%w: nil class driver", pkg.ErrInvalidParameter)
	}

	var claimed [MaxPipes]bool
	for i := range h.drivers {
		if !h.drivers[i].used {
			continue
		}
		for _, pd := range h.drivers[i].reg.Pipes {
			claimed[pd.Pipe] = true
		}
	}
	for _, pd := range reg.Pipes {
		if err := validPipeDef(pd); err != nil {
			return -1, err
		}
		if claimed[pd.Pipe] {
			return -1, fmt.Errorf("%w: pipe %d already registered", pkg.ErrInvalidParameter, pd.Pipe)
		}
		claimed[pd.Pipe] = true
	}

	for i := range h.drivers {
		if !h.drivers[i].used {
			h.drivers[i] = driverSlot{
				used: true,
				reg:  reg,
				cfgs: make([]hal.PipeConfig, len(reg.Pipes)),
			}
			return i, nil
		}
	}
	return -1, pkg.ErrRegistryFull
}

func validPipeDef(pd PipeDef) error {
	first, last := 0, -1
	switch pd.Type {
	case hal.TransferIsochronous:
		first, last = PipeIsoFirst, PipeIsoLast
	case hal.TransferBulk:
		first, last = PipeBulkFirst, PipeBulkLast
	case hal.TransferInterrupt:
		first, last = PipeInterruptFirst, PipeInterruptLast
	}
	if pd.Pipe < first || pd.Pipe > last {
		return fmt.Errorf("%w: pipe %d cannot carry %s transfers",
			pkg.ErrInvalidPipe, pd.Pipe, pd.Type)
	}
	return nil
}

// Binding returns the device bound to a registration slot.
func (h *Host) Binding(slot int) (Binding, bool) {
	h.lock()
	defer h.unlock()
	if slot < 0 || slot >= MaxDrivers || !h.drivers[slot].used {
		return Binding{}, false
	}
	return h.drivers[slot].bind, true
}

// classCheck offers every unclaimed interface of dev to the free
// registrations in table order. It returns the slots that claimed one.
func (h *Host) classCheck(dev *Device) []int {
	var claimed []int
	taken := make([]bool, len(dev.interfaces))

	for slot := range h.drivers {
		ds := &h.drivers[slot]
		if !ds.used || ds.bind.State != DriverDetached || !ds.matches(dev) {
			continue
		}
		for i := range dev.interfaces {
			iface := &dev.interfaces[i]
			if taken[i] || iface.AlternateSetting != 0 ||
				iface.InterfaceClass != ds.reg.InterfaceClass {
				continue
			}
			if !ds.reg.Driver.Check(dev, iface) {
				continue
			}
			if !ds.bindPipes(dev, iface) {
				pkg.LogWarn(pkg.ComponentHost, "interface lacks endpoints for driver pipes",
					"address", dev.address,
					"interface", iface.InterfaceNumber,
					"slot", slot)
				continue
			}
			taken[i] = true
			ds.bind = Binding{
				Port:      dev.port,
				Address:   dev.address,
				State:     DriverDefault,
				Interface: iface.InterfaceNumber,
			}
			claimed = append(claimed, slot)
			break
		}
	}
	return claimed
}

func (ds *driverSlot) matches(dev *Device) bool {
	if len(ds.reg.Targets) == 0 {
		return true
	}
	for _, id := range ds.reg.Targets {
		if id.VendorID == dev.descriptor.VendorID && id.ProductID == dev.descriptor.ProductID {
			return true
		}
	}
	return false
}

// bindPipes computes the pipe configuration of every PipeDef against the
// endpoints of iface.
func (ds *driverSlot) bindPipes(dev *Device, iface *InterfaceDescriptor) bool {
	eps := dev.InterfaceEndpoints(iface)
	used := make([]bool, len(eps))
	for i, pd := range ds.reg.Pipes {
		found := false
		for j := range eps {
			ep := &eps[j]
			if used[j] || hal.TransferType(ep.TransferType()) != pd.Type || ep.IsIn() != pd.In {
				continue
			}
			used[j] = true
			ds.cfgs[i] = hal.PipeConfig{
				Type:          pd.Type,
				In:            pd.In,
				Endpoint:      ep.Number(),
				MaxPacketSize: ep.MaxPacketSize & 0x07FF,
				Interval:      ep.Interval,
				Address:       dev.address,
			}
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

// unbind returns a slot to the detached state.
func (ds *driverSlot) unbind() {
	ds.bind = Binding{}
	for i := range ds.cfgs {
		ds.cfgs[i] = hal.PipeConfig{}
	}
}

// configureSlot programs the pipes of a claimed slot and queues its
// Configure callback.
func (h *Host) configureSlot(slot int, dev *Device) error {
	ds := &h.drivers[slot]
	for i, pd := range ds.reg.Pipes {
		if err := h.configurePipe(pd.Pipe, ds.cfgs[i], slot); err != nil {
			for _, done := range ds.reg.Pipes[:i] {
				h.releasePipe(done.Pipe)
			}
			return err
		}
	}
	ds.bind.State = DriverConfigured
	drv := ds.reg.Driver
	h.later(func() { drv.Configure(dev) })
	return nil
}

// notifyDrivers queues fn for every slot bound to dev.
func (h *Host) notifyDrivers(dev *Device, fn func(ClassDriver, *Device)) {
	for _, slot := range dev.drivers {
		drv := h.drivers[slot].reg.Driver
		h.later(func() { fn(drv, dev) })
	}
}
