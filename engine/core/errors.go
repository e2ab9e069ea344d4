package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

var (
	// ErrUsageSequence is returned when builder calls happen out of order,
	// e.g. a hit group opened twice or a stage added in the wrong phase.
	ErrUsageSequence = errors.New("usage sequencing error")
	// ErrBufferSizes is returned when a build is requested before the buffer
	// sizes were computed.
	ErrBufferSizes = errors.New("invalid buffer sizes")
	// ErrBindingCollision is returned when a descriptor binding index is registered twice.
	ErrBindingCollision = errors.New("descriptor binding collision")
	// ErrUnknownBinding is returned when writing to a binding that was never registered.
	ErrUnknownBinding = errors.New("unknown descriptor binding")
	// ErrNotBound is returned when a build references a structure without memory.
	ErrNotBound = errors.New("acceleration structure not bound to memory")
	// ErrDeviceCall is the root of every failed device call.
	ErrDeviceCall = errors.New("device call failed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknown         = errors.New("unknown")
)

// DeviceCallError records a device call that returned a non-success status
// together with the source location that issued it.
type DeviceCallError struct {
	Call        string
	Result      int32
	Description string
	File        string
	Line        int
}

func (e *DeviceCallError) Error() string {
	return fmt.Sprintf("%s:%d: %s failed with %s (%d)", e.File, e.Line, e.Call, e.Description, e.Result)
}

func (e *DeviceCallError) Unwrap() error {
	return ErrDeviceCall
}

// NewDeviceCallError captures the location of its caller.
func NewDeviceCallError(call string, result int32, description string) *DeviceCallError {
	return NewDeviceCallErrorAt(2, call, result, description)
}

// NewDeviceCallErrorAt captures the location skip frames above itself, so that
// helpers can attribute the failure to their own caller.
func NewDeviceCallErrorAt(skip int, call string, result int32, description string) *DeviceCallError {
	err := &DeviceCallError{
		Call:        call,
		Result:      result,
		Description: description,
		File:        "???",
	}
	if _, file, line, ok := runtime.Caller(skip); ok {
		err.File = filepath.Base(file)
		err.Line = line
	}
	return err
}
