// Package syslog reconciles the syslog servers configured on a network.
package syslog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Port is a syslog server port. The vendor returns it as a string and
// accepts a number, so both forms decode.
type Port int

func (p *Port) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}
	raw := string(b)
	if s, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(s)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("syslog port %s: %w", string(b), err)
	}
	*p = Port(n)
	return nil
}

type Server struct {
	Host  string   `json:"host"`
	Port  Port     `json:"port"`
	Roles []string `json:"roles"`
}

// Target is the server every network should send to.
type Target struct {
	Host  string
	Port  int
	Roles []string

	// RemoveHost, when set, is dropped from every network.
	RemoveHost string
}

func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return fmt.Errorf("syslog host is required")
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("syslog port must be 1-65535, got %d", t.Port)
	}
	if len(t.Roles) == 0 {
		return fmt.Errorf("at least one syslog role is required")
	}
	return nil
}

// Plan is the outcome of Reconcile.
type Plan struct {
	Servers []Server

	Kept     int
	Removed  int
	Replaced int
}

// Reconcile returns the server list for a network: unrelated servers are
// kept in order, servers on t.RemoveHost are dropped, any server on t.Host
// is replaced, and t is appended once at the end. existing is not modified.
func Reconcile(existing []Server, t Target) Plan {
	var p Plan
	p.Servers = make([]Server, 0, len(existing)+1)
	for _, s := range existing {
		switch {
		case s.Host == t.Host:
			p.Replaced++
		case t.RemoveHost != "" && s.Host == t.RemoveHost:
			p.Removed++
		default:
			p.Kept++
			p.Servers = append(p.Servers, s)
		}
	}
	p.Servers = append(p.Servers, Server{
		Host:  t.Host,
		Port:  Port(t.Port),
		Roles: append([]string(nil), t.Roles...),
	})
	return p
}

// Decode parses a syslogServers response body.
func Decode(body []byte) ([]Server, error) {
	var servers []Server
	if err := json.Unmarshal(body, &servers); err != nil {
		return nil, fmt.Errorf("decode syslog servers: %w", err)
	}
	return servers, nil
}

// Payload is the PUT body for a syslogServers update.
func Payload(servers []Server) ([]byte, error) {
	if servers == nil {
		servers = []Server{}
	}
	return json.Marshal(struct {
		Servers []Server `json:"servers"`
	}{Servers: servers})
}
