package reactor

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Proto is a transport identifier used in an Endpoint's wire form.
type Proto string

const (
	ProtoTCP Proto = "tcp"
	ProtoUDP Proto = "udp"
	ProtoSSL Proto = "ssl"
)

// Endpoint names a remote address as "proto://host:port", the form
// used throughout the RPC layer's service/endpoint resolution.
type Endpoint struct {
	Proto Proto
	Addr  string // host:port
}

// ParseEndpoint parses "tcp://host:port" (and udp/ssl equivalents).
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.Index(s, "://")
	if idx < 0 {
		return Endpoint{}, errors.Errorf("reactor: malformed endpoint %q", s)
	}
	proto := Proto(s[:idx])
	switch proto {
	case ProtoTCP, ProtoUDP, ProtoSSL:
	default:
		return Endpoint{}, errors.Errorf("reactor: unknown proto %q in endpoint %q", proto, s)
	}
	addr := s[idx+3:]
	if addr == "" {
		return Endpoint{}, errors.Errorf("reactor: empty address in endpoint %q", s)
	}
	return Endpoint{Proto: proto, Addr: addr}, nil
}

// String renders the endpoint back to its wire form.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Proto, e.Addr)
}

// Equal reports whether e and other name the same endpoint.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Proto == other.Proto && e.Addr == other.Addr
}

// resolveTCPAddr turns "host:port" into a unix.Sockaddr and the
// socket family (AF_INET or AF_INET6) it requires.
func resolveTCPAddr(addr string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "reactor: split host:port %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "reactor: bad port in %q", addr)
	}

	if host == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, 0, errors.Wrapf(err, "reactor: resolve host %q", host)
		}
		ip = ips[0]
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	ip6 := ip.To16()
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip6)
	return sa, unix.AF_INET6, nil
}

// peerFromSockaddr renders an accepted/connected peer's raw sockaddr
// as a "tcp://host:port" Endpoint.
func peerFromSockaddr(sa unix.Sockaddr) Endpoint {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return Endpoint{Proto: ProtoTCP, Addr: net.JoinHostPort(ip.String(), strconv.Itoa(v.Port))}
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return Endpoint{Proto: ProtoTCP, Addr: net.JoinHostPort(ip.String(), strconv.Itoa(v.Port))}
	default:
		return Endpoint{Proto: ProtoTCP}
	}
}
