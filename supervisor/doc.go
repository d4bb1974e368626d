// Package supervisor drives the runtime phases of the gasflow engine:
// startup classification, power toggling between runs, timer-driven fault
// monitoring with bounded recovery, setpoint control, and the confirm-gated
// shutdown sequence.
//
// The supervisor observes both device sessions, classifies faults
// independently per device (physical disconnection, communication loss,
// acquisition stall), and surfaces every outcome as an event on its bus
// rather than as an error halting the command stream. A presentation layer
// subscribes to the bus and issues commands through the exported methods.
package supervisor
