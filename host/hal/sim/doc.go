// Package sim provides an in-memory USB host IP core implementing
// [hal.HostHAL], together with simulated devices to attach to it.
//
// The controller has ten pipes (pipe 0 is the control pipe, 1-2
// isochronous or bulk, 3-5 bulk, 6-9 interrupt), three FIFO ports and a
// latched interrupt status word. Bus activity is driven by the host: every
// InterruptPending or ReadInterrupts call runs one service pass in which
// pending SETUP packets are answered and each enabled pipe moves at most
// one packet.
//
// Devices are modelled by [Function], answering standard requests from a
// [DeviceSpec], and [Hub], which adds the hub class requests, a status
// change endpoint and downstream ports:
//
//	c := sim.New(1)
//	hub := sim.NewHub(4)
//	_ = c.Attach(0, hub)
//	hub.AttachPort(2, sim.NewFunction(sim.DeviceSpec{Product: "Keyboard"}))
//
// Faults are injected through [Function.IgnoreSetups], [Function.Halt],
// [Function.StallStrings], [Hub.StallDescriptor], [Controller.FailFIFO]
// and [Controller.OverCurrent].
package sim
