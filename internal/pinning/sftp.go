package pinning

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/darkace1998/video-pipeline/internal/models"
)

// SFTPBackend copies files to a remote directory over SFTP
type SFTPBackend struct {
	addr      string
	remoteDir string
	config    *ssh.ClientConfig
}

// NewSFTPBackend creates an SFTP backend. URL is host[:port]. Options: user,
// password or private_key (raw or base64 PEM), remote_dir, host_key
// (authorized_keys format).
func NewSFTPBackend(ep models.PinEndpoint) (*SFTPBackend, error) {
	user := ep.Options["user"]
	if ep.URL == "" || user == "" {
		return nil, fmt.Errorf("sftp backend requires url and user")
	}

	var auths []ssh.AuthMethod
	switch {
	case ep.Options["private_key"] != "":
		signer, err := ssh.ParsePrivateKey(decodeSecret(ep.Options["private_key"]))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	case ep.Options["password"] != "":
		auths = append(auths, ssh.Password(ep.Options["password"]))
	default:
		return nil, fmt.Errorf("sftp backend requires password or private_key")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if hk := ep.Options["host_key"]; hk != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(hk))
		if err != nil {
			return nil, fmt.Errorf("parse host key: %w", err)
		}
		hostKeyCallback = ssh.FixedHostKey(pub)
	} else {
		slog.Warn("SFTP host key not configured, host key verification disabled", "addr", ep.URL)
	}

	addr := ep.URL
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	remoteDir := ep.Options["remote_dir"]
	if remoteDir == "" {
		remoteDir = "."
	}

	return &SFTPBackend{
		addr:      addr,
		remoteDir: remoteDir,
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            auths,
			HostKeyCallback: hostKeyCallback,
			Timeout:         10 * time.Second,
		},
	}, nil
}

// Name returns the backend label used in metrics and logs
func (b *SFTPBackend) Name() string { return "sftp" }

// Pin copies the file to remote_dir/<cid>
func (b *SFTPBackend) Pin(ctx context.Context, localPath string) (string, error) {
	cid, err := contentID(localPath)
	if err != nil {
		return "", err
	}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return "", fmt.Errorf("dial tcp %s: %w", b.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, b.addr, b.config)
	if err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("ssh handshake with %s: %w", b.addr, err)
	}
	sshClient := ssh.NewClient(clientConn, chans, reqs)
	defer func() { _ = sshClient.Close() }()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", fmt.Errorf("create sftp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := mkdirAll(client, b.remoteDir); err != nil {
		return "", fmt.Errorf("ensure remote dir %s: %w", b.remoteDir, err)
	}

	// #nosec G304 - path comes from the upload transport
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = src.Close() }()

	remotePath := path.Join(b.remoteDir, cid)
	dst, err := client.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("create remote file %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("copy to remote file %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close remote file %s: %w", remotePath, err)
	}
	return cid, nil
}

// mkdirAll creates each missing segment of dir on the server
func mkdirAll(client *sftp.Client, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}

	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}
	for _, p := range strings.Split(dir, "/") {
		if p == "" {
			continue
		}
		cur = path.Join(cur, p)
		if _, err := client.Stat(cur); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("stat %s: %w", cur, err)
			}
			if err := client.Mkdir(cur); err != nil {
				return fmt.Errorf("mkdir %s: %w", cur, err)
			}
		}
	}
	return nil
}
