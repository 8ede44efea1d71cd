package inventory

import (
	"bufio"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ParseKnownHosts returns the plain host names of a known_hosts file,
// sorted and without duplicates. Hashed entries cannot be reversed and are
// only counted. Marker lines and lines that do not parse are skipped.
func ParseKnownHosts(r io.Reader) (hosts []string, hashed int, err error) {
	seen := make(map[string]bool)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		marker, names, _, _, _, perr := ssh.ParseKnownHosts([]byte(line))
		if perr != nil || marker != "" {
			continue
		}
		for _, name := range names {
			if strings.HasPrefix(name, "|1|") {
				hashed++
				continue
			}
			name = stripPort(name)
			if skipped(name) || seen[name] {
				continue
			}
			seen[name] = true
			hosts = append(hosts, name)
		}
	}
	sort.Strings(hosts)
	return hosts, hashed, sc.Err()
}

// stripPort turns "[host]:2222" into "host".
func stripPort(name string) string {
	if !strings.HasPrefix(name, "[") {
		return name
	}
	if i := strings.Index(name, "]"); i > 0 {
		return name[1:i]
	}
	return strings.TrimPrefix(name, "[")
}
