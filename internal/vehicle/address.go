package vehicle

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
)

type Scheme string

const (
	SchemeUDPIn  Scheme = "udpin"
	SchemeUDPOut Scheme = "udpout"
	SchemeTCPIn  Scheme = "tcpin"
	SchemeTCPOut Scheme = "tcpout"
	SchemeSerial Scheme = "serial"
)

const DefaultBaud = 57600

var schemeAliases = map[string]Scheme{
	"udp":    SchemeUDPIn,
	"udpin":  SchemeUDPIn,
	"udpout": SchemeUDPOut,
	"tcp":    SchemeTCPOut,
	"tcpout": SchemeTCPOut,
	"tcpin":  SchemeTCPIn,
	"serial": SchemeSerial,
}

// Address is a parsed connection target, e.g. "udp://:14540" or
// "serial:///dev/ttyACM0:57600".
type Address struct {
	Scheme Scheme
	Host   string
	Port   int
	Device string
	Baud   int
}

func ParseAddress(raw string) (Address, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "://", 2)
	if len(parts) != 2 {
		return Address{}, errors.Wrapf(errs.ErrUnsupportedAddress, "%q: missing scheme", raw)
	}

	scheme, ok := schemeAliases[strings.ToLower(parts[0])]
	if !ok {
		return Address{}, errors.Wrapf(errs.ErrUnsupportedAddress, "%q: unknown scheme %q", raw, parts[0])
	}

	if scheme == SchemeSerial {
		return parseSerial(raw, parts[1])
	}

	host, portStr, err := net.SplitHostPort(parts[1])
	if err != nil {
		return Address{}, errors.Wrapf(errs.ErrUnsupportedAddress, "%q: %v", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, errors.Wrapf(errs.ErrUnsupportedAddress, "%q: invalid port %q", raw, portStr)
	}
	if host == "" && (scheme == SchemeUDPOut || scheme == SchemeTCPOut) {
		return Address{}, errors.Wrapf(errs.ErrUnsupportedAddress, "%q: %s needs a remote host", raw, scheme)
	}

	return Address{Scheme: scheme, Host: host, Port: port}, nil
}

func parseSerial(raw, rest string) (Address, error) {
	device, baud := rest, DefaultBaud
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		b, err := strconv.Atoi(rest[i+1:])
		if err != nil || b <= 0 {
			return Address{}, errors.Wrapf(errs.ErrUnsupportedAddress, "%q: invalid baud rate %q", raw, rest[i+1:])
		}
		device, baud = rest[:i], b
	}
	if device == "" {
		return Address{}, errors.Wrapf(errs.ErrUnsupportedAddress, "%q: missing serial device", raw)
	}

	return Address{Scheme: SchemeSerial, Device: device, Baud: baud}, nil
}

func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Address) String() string {
	if a.Scheme == SchemeSerial {
		return string(a.Scheme) + "://" + a.Device + ":" + strconv.Itoa(a.Baud)
	}
	return string(a.Scheme) + "://" + a.HostPort()
}
