package drivers

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/netconf"
)

// End-of-message delimiter of NETCONF 1.0 framing.
const messageSeparator = "]]>]]>"

const helloMessage = `<?xml version="1.0" encoding="UTF-8"?>
<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <capabilities>
    <capability>urn:ietf:params:xml:ns:netconf:base:1.0</capability>
  </capabilities>
</hello>
` + messageSeparator

// SSHDialer opens NETCONF sessions over the SSH netconf subsystem.
type SSHDialer struct {
	// HostKeyCallback verifies the device host key. Device inventories
	// rarely ship a curated known_hosts file, so the zero value accepts
	// any key.
	HostKeyCallback ssh.HostKeyCallback
}

// NewSSHDialer returns the default SSH dialer.
func NewSSHDialer() *SSHDialer {
	return &SSHDialer{}
}

// Dial connects to the device, starts the netconf subsystem and
// exchanges hello messages.
func (d *SSHDialer) Dial(ctx context.Context, params netconf.DialParams) (netconf.Session, error) {
	var auth []ssh.AuthMethod
	if params.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(params.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if params.Password != "" {
		auth = append(auth, ssh.Password(params.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no credentials for %s", params.Host)
	}

	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	timeout := time.Duration(params.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	config := &ssh.ClientConfig{
		User:            params.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	port := params.Port
	if port <= 0 {
		port = 830
	}
	addr := net.JoinHostPort(params.Host, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	sshConn, channels, requests, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, channels, requests)

	sshSession, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening session on %s: %w", addr, err)
	}
	stdin, err := sshSession.StdinPipe()
	if err != nil {
		sshSession.Close()
		client.Close()
		return nil, err
	}
	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		sshSession.Close()
		client.Close()
		return nil, err
	}
	if err := sshSession.RequestSubsystem("netconf"); err != nil {
		sshSession.Close()
		client.Close()
		return nil, fmt.Errorf("netconf subsystem on %s: %w", addr, err)
	}

	session := &sshSessionImpl{
		client:  client,
		session: sshSession,
		stdin:   stdin,
		stdout:  stdout,
		addr:    addr,
	}
	if err := session.hello(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("hello exchange with %s: %w", addr, err)
	}
	return session, nil
}

type sshSessionImpl struct {
	client    *ssh.Client
	session   *ssh.Session
	stdin     io.WriteCloser
	stdout    io.Reader
	addr      string
	messageID atomic.Uint64
}

func (s *sshSessionImpl) hello(ctx context.Context) error {
	if _, err := io.WriteString(s.stdin, helloMessage); err != nil {
		return err
	}
	reply, err := s.readMessage(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "<hello") {
		return fmt.Errorf("unexpected greeting: %.80s", reply)
	}
	log.Debug("NETCONF session established", "addr", s.addr)
	return nil
}

// rpc frames the body in an rpc envelope, sends it and returns the
// matching rpc-reply payload.
func (s *sshSessionImpl) rpc(ctx context.Context, body string) (string, error) {
	id := s.messageID.Add(1)
	message := fmt.Sprintf(
		`<rpc message-id="%d" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">%s</rpc>%s`,
		id, body, messageSeparator)
	if _, err := io.WriteString(s.stdin, message); err != nil {
		return "", fmt.Errorf("sending rpc to %s: %w", s.addr, err)
	}

	reply, err := s.readMessage(ctx)
	if err != nil {
		return "", fmt.Errorf("reading reply from %s: %w", s.addr, err)
	}
	if strings.Contains(reply, "<rpc-error") {
		return "", fmt.Errorf("rpc error from %s: %s", s.addr, errorMessage(reply))
	}
	return reply, nil
}

// readMessage reads one ]]>]]>-delimited message. The read runs in a
// goroutine so a cancelled context abandons the session instead of
// blocking forever.
func (s *sshSessionImpl) readMessage(ctx context.Context) (string, error) {
	type result struct {
		message string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		var buf strings.Builder
		chunk := make([]byte, 4096)
		for {
			n, err := s.stdout.Read(chunk)
			buf.Write(chunk[:n])
			if idx := strings.Index(buf.String(), messageSeparator); idx >= 0 {
				done <- result{message: buf.String()[:idx]}
				return
			}
			if err != nil {
				done <- result{err: err}
				return
			}
		}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.message, r.err
	}
}

func (s *sshSessionImpl) GetConfig(ctx context.Context, source string) (string, error) {
	reply, err := s.rpc(ctx, fmt.Sprintf("<get-config><source>%s</source></get-config>", datastoreElement(source)))
	if err != nil {
		return "", err
	}
	return dataPayload(reply), nil
}

func (s *sshSessionImpl) Get(ctx context.Context, filter string) (string, error) {
	reply, err := s.rpc(ctx, fmt.Sprintf(`<get><filter type="subtree">%s</filter></get>`, filter))
	if err != nil {
		return "", err
	}
	return dataPayload(reply), nil
}

func (s *sshSessionImpl) EditConfig(ctx context.Context, target, config string, opts netconf.EditOptions) (string, error) {
	var body strings.Builder
	body.WriteString("<edit-config><target>")
	body.WriteString(datastoreElement(target))
	body.WriteString("</target>")
	if opts.DefaultOperation != "" {
		fmt.Fprintf(&body, "<default-operation>%s</default-operation>", opts.DefaultOperation)
	}
	if opts.TestOption != "" {
		fmt.Fprintf(&body, "<test-option>%s</test-option>", opts.TestOption)
	}
	if opts.ErrorOption != "" {
		fmt.Fprintf(&body, "<error-option>%s</error-option>", opts.ErrorOption)
	}
	body.WriteString("<config>")
	body.WriteString(config)
	body.WriteString("</config></edit-config>")

	return s.rpc(ctx, body.String())
}

func (s *sshSessionImpl) CopyConfig(ctx context.Context, source, target string) (string, error) {
	reply, err := s.rpc(ctx, fmt.Sprintf(
		"<copy-config><target>%s</target><source>%s</source></copy-config>",
		datastoreElement(target), datastoreElement(source)))
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (s *sshSessionImpl) RPC(ctx context.Context, content string) (string, error) {
	return s.rpc(ctx, content)
}

func (s *sshSessionImpl) Lock(ctx context.Context, target string) error {
	_, err := s.rpc(ctx, fmt.Sprintf("<lock><target>%s</target></lock>", datastoreElement(target)))
	return err
}

func (s *sshSessionImpl) Unlock(ctx context.Context, target string) error {
	_, err := s.rpc(ctx, fmt.Sprintf("<unlock><target>%s</target></unlock>", datastoreElement(target)))
	return err
}

func (s *sshSessionImpl) Commit(ctx context.Context) error {
	_, err := s.rpc(ctx, "<commit/>")
	return err
}

func (s *sshSessionImpl) Close() error {
	s.session.Close()
	return s.client.Close()
}

// datastoreElement renders a datastore name or URL as its element form.
func datastoreElement(name string) string {
	if strings.Contains(name, "://") {
		var escaped strings.Builder
		xml.EscapeText(&escaped, []byte(name))
		return "<url>" + escaped.String() + "</url>"
	}
	return "<" + name + "/>"
}

// dataPayload strips the rpc-reply envelope, returning the inner data
// element content when present.
func dataPayload(reply string) string {
	start := strings.Index(reply, "<data")
	if start < 0 {
		return reply
	}
	open := strings.Index(reply[start:], ">")
	if open < 0 {
		return reply
	}
	end := strings.LastIndex(reply, "</data>")
	if end < start {
		return reply
	}
	return strings.TrimSpace(reply[start+open+1 : end])
}

// errorMessage extracts the first error-message text from an rpc-error
// reply, falling back to the raw reply.
func errorMessage(reply string) string {
	start := strings.Index(reply, "<error-message")
	if start < 0 {
		return strings.TrimSpace(reply)
	}
	open := strings.Index(reply[start:], ">")
	end := strings.Index(reply[start:], "</error-message>")
	if open < 0 || end < open {
		return strings.TrimSpace(reply)
	}
	return strings.TrimSpace(reply[start+open+1 : start+end])
}
