package executor

import "strconv"

// Target is the connection data for one host.
type Target struct {
	Address      string
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
}

// IsLocal reports whether the tools run on this machine instead of over SSH.
func (t Target) IsLocal() bool {
	switch t.Address {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func (t Target) port() string {
	if t.Port <= 0 {
		return "22"
	}
	return strconv.Itoa(t.Port)
}

func (t Target) userAtHost() string {
	if t.User == "" {
		return t.Address
	}
	return t.User + "@" + t.Address
}
