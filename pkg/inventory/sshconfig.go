// Package inventory imports hosts from an operator's SSH setup and checks
// that they are reachable.
//
// Discovery reads Host blocks from an ssh_config file and plain host names
// from known_hosts, then merges them into the host store. Merging only fills
// blank or default fields, so edits made through the API survive re-runs.
package inventory

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Entry is one host alias from an ssh_config file.
type Entry struct {
	Alias        string
	HostName     string
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
}

// Address is the host to connect to. HostName defaults to the alias and %h
// expands to it.
func (e Entry) Address() string {
	if e.HostName == "" {
		return e.Alias
	}
	return strings.ReplaceAll(e.HostName, "%h", e.Alias)
}

// skipped reports whether a host name is never imported.
func skipped(name string) bool {
	switch name {
	case "", "*", "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.ContainsAny(name, "*?!")
}

// ParseSSHConfig reads Host blocks. A block with several aliases yields one
// entry per alias, all sharing the block's settings. Wildcard patterns and
// loopback names are dropped; settings outside a Host block, and Match
// blocks, are ignored.
func ParseSSHConfig(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		block   []int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}

		switch key {
		case "host":
			block = block[:0]
			for _, alias := range strings.Fields(value) {
				if skipped(alias) {
					continue
				}
				entries = append(entries, Entry{Alias: alias})
				block = append(block, len(entries)-1)
			}
			continue
		case "match":
			block = block[:0]
			continue
		}

		for _, i := range block {
			applyDirective(&entries[i], key, value)
		}
	}
	return entries, sc.Err()
}

// splitDirective splits "Key value" and "Key=value" forms.
func splitDirective(line string) (key, value string, ok bool) {
	i := strings.IndexAny(line, " \t=")
	if i < 0 {
		return "", "", false
	}
	key = strings.ToLower(line[:i])
	value = strings.TrimSpace(strings.TrimLeft(line[i:], " \t="))
	value = strings.Trim(value, `"`)
	return key, value, value != ""
}

// applyDirective keeps the first value of each setting, as ssh does.
func applyDirective(e *Entry, key, value string) {
	switch key {
	case "hostname":
		if e.HostName == "" {
			e.HostName = value
		}
	case "user":
		if e.User == "" {
			e.User = value
		}
	case "port":
		if e.Port == 0 {
			if p, err := strconv.Atoi(value); err == nil && p > 0 && p < 65536 {
				e.Port = p
			}
		}
	case "identityfile":
		if e.IdentityFile == "" {
			e.IdentityFile = value
		}
	case "proxyjump":
		if e.ProxyJump == "" && !strings.EqualFold(value, "none") {
			e.ProxyJump = value
		}
	}
}
