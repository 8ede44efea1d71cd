package inventory

import (
	"context"
	"net"
	"os"
	"strconv"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/logger"
)

// ConnRequest names the host to test. Zero fields take the configured
// defaults.
type ConnRequest struct {
	Address      string `json:"hostname"`
	User         string `json:"ssh_user"`
	Port         int    `json:"port"`
	IdentityFile string `json:"identity_file"`
}

// ConnResult is the outcome of a connection test.
type ConnResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Tester opens an SSH session to check that a host accepts our key.
type Tester struct {
	cfg Config
	log logger.Logger
}

// NewTester creates a connection tester.
func NewTester(cfg Config, log logger.Logger) *Tester {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	return &Tester{cfg: cfg, log: logger.OrNop(log)}
}

// TestConnection dials the host and completes the SSH handshake and
// authentication. Only an invalid request is returned as an error; an
// unreachable or refusing host is reported in the result.
func (t *Tester) TestConnection(ctx context.Context, req ConnRequest) (*ConnResult, error) {
	const op = "inventory.TestConnection"
	if req.Address == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "hostname is required")
	}

	clientCfg, err := t.clientConfig(req)
	if err != nil {
		return &ConnResult{Error: err.Error()}, nil
	}
	if err := t.dial(ctx, req, clientCfg); err != nil {
		t.log.Debug("connection test to %s failed: %v", req.Address, err)
		return &ConnResult{Error: err.Error()}, nil
	}
	return &ConnResult{Success: true}, nil
}

func (t *Tester) clientConfig(req ConnRequest) (*ssh.ClientConfig, error) {
	user := req.User
	if user == "" {
		user = t.cfg.User
	}
	keyPath := expandHome(req.IdentityFile)
	if keyPath == "" {
		keyPath = expandHome(t.cfg.IdentityFile)
	}
	if keyPath == "" {
		return nil, errors.E(errors.KindInvalidInput, "inventory.TestConnection", "no identity file configured")
	}

	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, err
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if kh := expandHome(t.cfg.KnownHostsFile); kh != "" {
		cb, err := knownhosts.New(kh)
		if err != nil {
			return nil, err
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         t.cfg.ConnectTimeout,
	}, nil
}

func (t *Tester) dial(ctx context.Context, req ConnRequest, cfg *ssh.ClientConfig) error {
	port := req.Port
	if port <= 0 {
		port = t.cfg.Port
	}
	if port <= 0 {
		port = 22
	}
	addr := net.JoinHostPort(req.Address, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	// The handshake does not watch ctx; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	cConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return err
	}
	client := ssh.NewClient(cConn, chans, reqs)
	return client.Close()
}
