package cftpfs

import (
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cftpfs/cftpfs/internal/cftpfslog"
)

// Options configures the remote server and local behavior. It is built
// straight from parsed command-line flags (see cmd/cftpfs) - there is no
// registry or config file layer, since this binary has exactly one backend.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Encoding string
	Debug    bool

	CacheTimeout time.Duration

	// LegacyPrefixInvalidate reproduces the documented-but-over-broad
	// raw byte-prefix cache invalidation instead of the corrected
	// whole-path-component match. Off by default.
	LegacyPrefixInvalidate bool

	ConnectTimeout    time.Duration
	OverallTimeout    time.Duration
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
}

// DefaultOptions matches spec §4.2/§6's defaults.
func DefaultOptions() Options {
	return Options{
		Port:              21,
		User:              "anonymous",
		Encoding:          "utf-8",
		CacheTimeout:      DefaultCacheTimeout,
		ConnectTimeout:    30 * time.Second,
		OverallTimeout:    300 * time.Second,
		KeepAliveIdle:     120 * time.Second,
		KeepAliveInterval: 60 * time.Second,
	}
}

// connError marks a failure as connection-class: spec §4.2(e)/§7 requires
// the session to be torn down after one of these, but not after others
// (e.g. a permanent "550 No such file").
type connError struct{ err error }

func (e *connError) Error() string { return e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

func isConnError(err error) bool {
	var ce *connError
	return errors.As(err, &ce)
}

// session is a single FTP control connection plus the data-connection
// dialing it needs for PASV transfers. It is not safe for concurrent use:
// Context.ftpMu is the only thing that makes that safe, per spec §5.
type session struct {
	opts Options
	text *textproto.Conn
	tcp  net.Conn
}

func dialSession(opts Options) (*session, error) {
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, &connError{errors.Wrap(err, "dial")}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAliveConfig(net.KeepAliveConfig{
			Enable:   true,
			Idle:     opts.KeepAliveIdle,
			Interval: opts.KeepAliveInterval,
		})
	}

	text := textproto.NewConn(conn)
	s := &session{opts: opts, text: text, tcp: conn}
	s.armDeadline()

	if _, _, err := s.text.ReadResponse(220); err != nil {
		s.close()
		return nil, &connError{errors.Wrap(err, "read welcome banner")}
	}
	code, _, err := s.cmd("USER %s", opts.User)
	if err != nil {
		s.close()
		return nil, &connError{errors.Wrap(err, "USER")}
	}
	if code == 331 {
		if _, _, err := s.cmd("PASS %s", opts.Password); err != nil {
			s.close()
			return nil, &connError{errors.Wrap(err, "PASS")}
		}
	}
	cftpfslog.Debugf(opts.Host, "logged in as %s", opts.User)
	return s, nil
}

// armDeadline resets the control connection's deadline to opts.OverallTimeout
// from now, so no single command/response round trip on this session can
// block past the configured overall timeout (spec §4.2(c), §5). Called at
// the start of every command; dataConn arms the data connection separately
// since it's a second socket with its own read/write deadline.
func (s *session) armDeadline() {
	if s.opts.OverallTimeout <= 0 {
		return
	}
	_ = s.tcp.SetDeadline(time.Now().Add(s.opts.OverallTimeout))
}

func (s *session) close() {
	_ = s.text.Close()
}

func (s *session) quit() {
	_, _ = s.text.Cmd("QUIT")
	s.close()
}

// cmd sends one command and reads back its response line(s), classifying
// the usual connection failures (closed conn, i/o timeout) as connError so
// ftpClient.withSession knows to tear the session down.
func (s *session) cmd(format string, args ...interface{}) (int, string, error) {
	s.armDeadline()
	id, err := s.text.Cmd(format, args...)
	if err != nil {
		return 0, "", &connError{err}
	}
	s.text.StartResponse(id)
	defer s.text.EndResponse(id)
	code, msg, err := s.text.ReadResponse(-1)
	if err != nil {
		if _, ok := err.(*textproto.Error); ok {
			return code, msg, err
		}
		return code, msg, &connError{err}
	}
	return code, msg, nil
}

func (s *session) expect(wantCode int, format string, args ...interface{}) (string, error) {
	code, msg, err := s.cmd(format, args...)
	if err != nil {
		return "", err
	}
	if code != wantCode {
		return "", errors.Errorf("unexpected response to %s: %d %s", fmt.Sprintf(format, args...), code, msg)
	}
	return msg, nil
}

// pasv asks the server to open a passive data port and returns its address.
func (s *session) pasv() (string, error) {
	msg, err := s.expect(227, "PASV")
	if err != nil {
		return "", err
	}
	start := strings.IndexByte(msg, '(')
	end := strings.IndexByte(msg, ')')
	if start < 0 || end < 0 || end <= start {
		return "", &connError{errors.Errorf("malformed PASV response: %q", msg)}
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return "", &connError{errors.Errorf("malformed PASV response: %q", msg)}
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return "", &connError{errors.Errorf("malformed PASV response: %q", msg)}
		}
		nums[i] = n
	}
	ip := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	port := nums[4]*256 + nums[5]
	return net.JoinHostPort(ip, strconv.Itoa(port)), nil
}

// dataConn opens a PASV data connection and issues cmd on the control
// channel, returning the open data connection once the server has replied
// with a 1xx "about to open" status.
//
// A non-1xx reply here is not automatically connection-class: 425 ("can't
// open data connection") is a genuine transport failure and tears the
// session down, per spec §4.2(e)/§7, but a permanent command refusal such
// as 550 on a RETR/STOR whose remote path doesn't exist or isn't writable
// is a plain I/O error that leaves the session up - the server never even
// attempted to open the data connection for it.
func (s *session) dataConn(format string, args ...interface{}) (net.Conn, error) {
	addr, err := s.pasv()
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: s.opts.ConnectTimeout}
	data, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, &connError{errors.Wrap(err, "dial data connection")}
	}
	if s.opts.OverallTimeout > 0 {
		_ = data.SetDeadline(time.Now().Add(s.opts.OverallTimeout))
	}
	code, msg, err := s.cmd(format, args...)
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	switch {
	case code/100 == 1:
		return data, nil
	case code == 425:
		_ = data.Close()
		return nil, &connError{errors.Errorf("data connection rejected: %d %s", code, msg)}
	default:
		_ = data.Close()
		return nil, errors.Errorf("unexpected response to %s: %d %s", fmt.Sprintf(format, args...), code, msg)
	}
}

// finishData reads the final control-channel response after a data
// transfer has completed (the "226 Transfer complete" line). There is no
// new command to send here - the server emits this line on its own once
// it has closed the data connection - so we take our own pipeline id
// instead of going through cmd.
func (s *session) finishData() error {
	s.armDeadline()
	id := s.text.Next()
	// No request is written for this id, but its request turn must still
	// be taken and released, or the next Cmd would wait for it forever.
	s.text.StartRequest(id)
	s.text.EndRequest(id)
	s.text.StartResponse(id)
	defer s.text.EndResponse(id)
	code, _, err := s.text.ReadResponse(-1)
	if err != nil {
		return &connError{err}
	}
	if code/100 != 2 {
		return errors.Errorf("transfer did not complete: %d", code)
	}
	return nil
}
