// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// PortProtocolTCP is the TCP transport protocol for port mappings.
	PortProtocolTCP PortProtocol = "tcp"
	// PortProtocolUDP is the UDP transport protocol for port mappings.
	PortProtocolUDP PortProtocol = "udp"

	// DefaultPortMin is the lowest candidate host port (inclusive).
	DefaultPortMin NetworkPort = 2000
	// DefaultPortMax is the highest candidate host port (exclusive).
	DefaultPortMax NetworkPort = 17000
	// DefaultPortAttempts bounds how many candidates GetOpenPort probes.
	DefaultPortAttempts = 50
	// DefaultPortBackoff is the pause before the second probe; it doubles
	// after every failed probe.
	DefaultPortBackoff = time.Millisecond
)

var (
	// ErrNoOpenPort is returned when every probed candidate was busy.
	ErrNoOpenPort = errors.New("no open port found")

	// ErrInvalidPortProtocol is the sentinel error wrapped by InvalidPortProtocolError.
	ErrInvalidPortProtocol = errors.New("invalid port protocol")

	// ErrInvalidNetworkPort is the sentinel error wrapped by InvalidNetworkPortError.
	ErrInvalidNetworkPort = errors.New("invalid network port")

	// ErrInvalidPortMapping is the sentinel error wrapped by InvalidPortMappingError.
	ErrInvalidPortMapping = errors.New("invalid port mapping")
)

type (
	// NetworkPort is a TCP/UDP port number. Zero is invalid.
	NetworkPort uint16

	// InvalidNetworkPortError is returned when a NetworkPort value is zero.
	InvalidNetworkPortError struct {
		Value NetworkPort
	}

	// PortProtocol is a transport protocol. The zero value means tcp.
	PortProtocol string

	// InvalidPortProtocolError is returned when a PortProtocol is not tcp or udp.
	InvalidPortProtocolError struct {
		Value PortProtocol
	}

	// PortMapping publishes ContainerPort on HostPort.
	PortMapping struct {
		HostPort      NetworkPort
		ContainerPort NetworkPort
		Protocol      PortProtocol
	}

	// InvalidPortMappingError is returned when a PortMapping has invalid fields.
	InvalidPortMappingError struct {
		Value     PortMapping
		FieldErrs []error
	}

	// ListenFunc opens a listener; it matches net.Listen.
	ListenFunc func(network, address string) (net.Listener, error)

	// PortAllocator finds free host ports by binding random candidates.
	// The zero value uses the default range, attempt cap and backoff.
	PortAllocator struct {
		Min         NetworkPort
		Max         NetworkPort
		MaxAttempts int
		Backoff     time.Duration
		Listen      ListenFunc
		// Intn returns a value in [0, n). It defaults to math/rand/v2.
		Intn func(n int) int
	}
)

// String returns the string representation of the NetworkPort.
func (p NetworkPort) String() string { return strconv.Itoa(int(p)) }

// Validate returns an error if the port is zero.
func (p NetworkPort) Validate() error {
	if p == 0 {
		return &InvalidNetworkPortError{Value: p}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidNetworkPortError) Error() string {
	return fmt.Sprintf("invalid network port %d: must be greater than zero", e.Value)
}

// Unwrap returns ErrInvalidNetworkPort for errors.Is() compatibility.
func (e *InvalidNetworkPortError) Unwrap() error { return ErrInvalidNetworkPort }

// String returns the string representation of the PortProtocol.
func (p PortProtocol) String() string { return string(p) }

// Validate returns an error if the protocol is not tcp, udp or empty.
func (p PortProtocol) Validate() error {
	switch p {
	case PortProtocolTCP, PortProtocolUDP, "":
		return nil
	default:
		return &InvalidPortProtocolError{Value: p}
	}
}

// Error implements the error interface.
func (e *InvalidPortProtocolError) Error() string {
	return fmt.Sprintf("invalid port protocol %q (valid: tcp, udp)", e.Value)
}

// Unwrap returns ErrInvalidPortProtocol for errors.Is() compatibility.
func (e *InvalidPortProtocolError) Unwrap() error { return ErrInvalidPortProtocol }

// Validate returns an error if any field of the mapping is invalid.
func (m PortMapping) Validate() error {
	var errs []error
	for _, err := range []error{m.HostPort.Validate(), m.ContainerPort.Validate(), m.Protocol.Validate()} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &InvalidPortMappingError{Value: m, FieldErrs: errs}
	}
	return nil
}

// String returns the mapping as "host:container/protocol".
func (m PortMapping) String() string {
	proto := m.Protocol
	if proto == "" {
		proto = PortProtocolTCP
	}
	return fmt.Sprintf("%d:%d/%s", m.HostPort, m.ContainerPort, proto)
}

// Error implements the error interface.
func (e *InvalidPortMappingError) Error() string {
	return fmt.Sprintf("invalid port mapping %s: %v", e.Value, errors.Join(e.FieldErrs...))
}

// Unwrap returns ErrInvalidPortMapping for errors.Is() compatibility.
func (e *InvalidPortMappingError) Unwrap() error { return ErrInvalidPortMapping }

// FormatPortMapping formats a mapping for the -p flag. The tcp protocol
// is left implicit.
func FormatPortMapping(m PortMapping) string {
	s := fmt.Sprintf("%d:%d", m.HostPort, m.ContainerPort)
	if m.Protocol != "" && m.Protocol != PortProtocolTCP {
		s += "/" + string(m.Protocol)
	}
	return s
}

// ParsePortMapping parses "host:container[/protocol]".
func ParsePortMapping(s string) (PortMapping, error) {
	host, rest, ok := strings.Cut(s, ":")
	if !ok {
		return PortMapping{}, fmt.Errorf("invalid port mapping format %q: must contain ':' separator", s)
	}
	hostPort, err := strconv.ParseUint(host, 10, 16)
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid host port %q: %w", host, err)
	}
	container, proto, _ := strings.Cut(rest, "/")
	containerPort, err := strconv.ParseUint(container, 10, 16)
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid container port %q: %w", container, err)
	}

	m := PortMapping{HostPort: NetworkPort(hostPort), ContainerPort: NetworkPort(containerPort), Protocol: PortProtocol(proto)}
	if err := m.Validate(); err != nil {
		return PortMapping{}, err
	}
	return m, nil
}

// GetOpenPort probes uniformly random candidates in [Min, Max) by binding
// a TCP listener on all interfaces. The first candidate that binds is
// released and returned. After MaxAttempts busy candidates it returns
// ErrNoOpenPort.
func (a *PortAllocator) GetOpenPort(ctx context.Context) (NetworkPort, error) {
	lo, hi := a.Min, a.Max
	if lo == 0 {
		lo = DefaultPortMin
	}
	if hi == 0 {
		hi = DefaultPortMax
	}
	if hi <= lo {
		return 0, fmt.Errorf("invalid port range [%d, %d)", lo, hi)
	}
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPortAttempts
	}
	backoff := a.Backoff
	if backoff <= 0 {
		backoff = DefaultPortBackoff
	}
	listen := a.Listen
	if listen == nil {
		listen = net.Listen
	}
	intn := a.Intn
	if intn == nil {
		intn = rand.IntN
	}

	var port NetworkPort
	err := RetryWithBackoff(ctx, attempts, backoff, func(int) (bool, error) {
		candidate := lo + NetworkPort(intn(int(hi-lo)))
		l, err := listen("tcp", ":"+candidate.String())
		if err != nil {
			return true, err
		}
		if err := l.Close(); err != nil {
			return true, err
		}
		port = candidate
		return false, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w after %d attempt(s) in [%d, %d): %w", ErrNoOpenPort, attempts, lo, hi, err)
	}
	return port, nil
}

// GetOpenPort finds a free host port with the default allocator.
func GetOpenPort(ctx context.Context) (NetworkPort, error) {
	var a PortAllocator
	return a.GetOpenPort(ctx)
}
