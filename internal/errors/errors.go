package errors

import "errors"

var ErrUnsupportedAddress = errors.New("ErrUnsupportedAddress: connection address isn't supported")
var ErrNoAck = errors.New("ErrNoAck: command wasn't acknowledged")
var ErrLinkClosed = errors.New("ErrLinkClosed: vehicle link is closed")
var ErrNotConnected = errors.New("ErrNotConnected: no autopilot heartbeat received yet")
var ErrUnsupportedAutopilot = errors.New("ErrUnsupportedAutopilot: autopilot flavour isn't supported")
