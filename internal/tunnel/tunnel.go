// Package tunnel opens SSH connections to bastion hosts and dials private
// database addresses through them.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/faucetdb/reservoir/internal/model"
)

const dialTimeout = 15 * time.Second

// Tunnel is an open SSH client session to a bastion host.
type Tunnel struct {
	client *ssh.Client
	addr   string
}

// Open connects and authenticates to the bastion described by spec.
func Open(ctx context.Context, spec model.SSHTunnel) (*Tunnel, error) {
	cfg, err := clientConfig(spec)
	if err != nil {
		return nil, err
	}
	addr := spec.Address()

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &Tunnel{client: ssh.NewClient(c, chans, reqs), addr: addr}, nil
}

// DialContext opens a connection to addr as seen from the bastion host.
func (t *Tunnel) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := t.client.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s via %s: %w", addr, t.addr, err)
	}
	return conn, nil
}

// Close tears down the SSH session and every connection dialed through it.
func (t *Tunnel) Close() error {
	return t.client.Close()
}

func clientConfig(spec model.SSHTunnel) (*ssh.ClientConfig, error) {
	if spec.Host == "" {
		return nil, errors.New("ssh tunnel: host is required")
	}
	if spec.User == "" {
		return nil, errors.New("ssh tunnel: user is required")
	}

	var auth []ssh.AuthMethod
	if spec.PrivateKey != "" {
		var (
			signer ssh.Signer
			err    error
		)
		if spec.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(spec.PrivateKey), []byte(spec.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(spec.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("ssh tunnel: parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if spec.Password != "" {
		auth = append(auth, ssh.Password(spec.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh tunnel: a private key or password is required")
	}

	hostKey := acceptUnpinned
	if spec.HostKey != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(spec.HostKey))
		if err != nil {
			return nil, fmt.Errorf("ssh tunnel: parse host key: %w", err)
		}
		hostKey = ssh.FixedHostKey(pub)
	}

	return &ssh.ClientConfig{
		User:            spec.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	}, nil
}

// acceptUnpinned accepts any bastion host key and logs its fingerprint, so
// an operator can pin it through the tunnel's host_key setting.
func acceptUnpinned(hostname string, remote net.Addr, key ssh.PublicKey) error {
	slog.Warn("ssh host key not pinned, accepting unverified key",
		"component", "tunnel",
		"host", hostname,
		"fingerprint", ssh.FingerprintSHA256(key),
	)
	return nil
}
