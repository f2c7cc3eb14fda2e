package gps

import "fmt"

// ConnectionError means the serial channel could not be opened or was lost.
// It is fatal to the owning Service.
type ConnectionError struct {
	Op     string // open, read or write
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("gps %s %s: %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("gps %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ConfigurationError is a single configurator step that could not be built
// or was rejected. Remaining steps still run.
type ConfigurationError struct {
	Step string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration step %q: %v", e.Step, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DataValidationError is a decoded message with implausible or missing
// required fields. The message is dropped.
type DataValidationError struct {
	Identity string
	Reason   string
}

func (e *DataValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Identity, e.Reason)
}
