package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Network reports the host's network interfaces and their addresses.
type Network struct {
	schedule time.Duration
}

// interfaceFact describes one network interface.
type interfaceFact struct {
	Name         string   `json:"name"`
	MTU          int      `json:"mtu"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	Up           bool     `json:"up"`
	Addresses    []string `json:"addresses,omitempty"`
}

// NewNetwork creates the network collector with the given cadence.
func NewNetwork(schedule time.Duration) *Network {
	return &Network{schedule: schedule}
}

// Name implements Collector.
func (n *Network) Name() string {
	return "network"
}

// Schedule implements Collector.
func (n *Network) Schedule() time.Duration {
	return n.schedule
}

// Collect implements Collector.
func (n *Network) Collect(_ context.Context) (json.RawMessage, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	facts := make([]interfaceFact, 0, len(interfaces))

	for _, iface := range interfaces {
		fact := interfaceFact{
			Name:         iface.Name,
			MTU:          iface.MTU,
			HardwareAddr: iface.HardwareAddr.String(),
			Up:           iface.Flags&net.FlagUp != 0,
		}

		// Address listing failures affect one interface only.
		if addrs, addrErr := iface.Addrs(); addrErr == nil {
			for _, addr := range addrs {
				fact.Addresses = append(fact.Addresses, addr.String())
			}
		}

		facts = append(facts, fact)
	}

	payload, err := json.Marshal(facts)
	if err != nil {
		return nil, fmt.Errorf("encode interface facts: %w", err)
	}

	return payload, nil
}
