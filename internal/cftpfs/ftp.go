package cftpfs

import (
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/cftpfs/cftpfs/internal/cftpfslog"
)

// ftpOps is the operation set spec §4.2 asks for: directory listing, file
// download, file upload, delete, mkdir, rmdir and rename, each operating
// against a single owned FTP session. The dispatcher only ever talks to
// this interface, which is what lets fs_test.go exercise the dispatcher's
// locking and caching behavior against a fake implementation instead of a
// live FTP server.
type ftpOps interface {
	list(path string) ([]byte, error)
	download(remote, local string) error
	upload(local, remote string) error
	delete(path string) error
	mkdir(path string) error
	rmdir(path string) error
	rename(oldPath, newPath string) error
}

// ftpClient is the real ftpOps backed by a single session, lazily
// connected and torn down on a connection-class failure so the next
// operation reconnects - spec §4.2(e).
type ftpClient struct {
	opts Options
	sess *session
}

func newFTPClient(opts Options) *ftpClient {
	return &ftpClient{opts: opts}
}

func (c *ftpClient) ensureSession() (*session, error) {
	if c.sess != nil {
		return c.sess, nil
	}
	s, err := dialSession(c.opts)
	if err != nil {
		return nil, err
	}
	c.sess = s
	return s, nil
}

// withSession runs fn against a live session, tearing the session down so
// the next call reconnects if fn's error is connection-class, and leaving
// it up (for the caller to retry against the same server state) otherwise.
func (c *ftpClient) withSession(fn func(*session) error) error {
	s, err := c.ensureSession()
	if err != nil {
		return err
	}
	err = fn(s)
	if err != nil && isConnError(err) {
		cftpfslog.Debugf(c.opts.Host, "connection failure, dropping session for reconnect: %v", err)
		s.close()
		c.sess = nil
	}
	return err
}

func (c *ftpClient) close() {
	if c.sess != nil {
		c.sess.quit()
		c.sess = nil
	}
}

// splitPathComponents splits an absolute remote path into its non-empty
// components, e.g. "/a/b/c" -> ["a", "b", "c"].
func splitPathComponents(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// list fetches the raw LIST text for path using the MULTICWD resolution
// style: one CWD per path component from the root, then a bare LIST with
// no argument. This is the style spec §4.2 calls for "for maximum server
// compatibility" - some servers mishandle a LIST argument that isn't a
// bare name in the current directory.
func (c *ftpClient) list(dir string) ([]byte, error) {
	var out []byte
	err := c.withSession(func(s *session) error {
		if _, err := s.expect(250, "CWD /"); err != nil {
			return err
		}
		for _, comp := range splitPathComponents(dir) {
			if _, err := s.expect(250, "CWD %s", comp); err != nil {
				return err
			}
		}
		data, err := s.dataConn("LIST")
		if err != nil {
			return err
		}
		buf, readErr := io.ReadAll(data)
		_ = data.Close()
		if readErr != nil {
			return &connError{errors.Wrap(readErr, "read listing")}
		}
		if err := s.finishData(); err != nil {
			return err
		}
		out = buf
		return nil
	})
	return out, err
}

// download fetches the whole remote file into local using the NOCWD
// resolution style: the full path goes straight into RETR, minimizing
// round-trips.
func (c *ftpClient) download(remote, local string) error {
	return c.withSession(func(s *session) error {
		data, err := s.dataConn("RETR %s", remote)
		if err != nil {
			return err
		}
		f, ferr := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if ferr != nil {
			_ = data.Close()
			return errors.Wrap(ferr, "open local staging file")
		}
		_, copyErr := io.Copy(f, data)
		_ = data.Close()
		closeErr := f.Close()
		if copyErr != nil {
			return &connError{errors.Wrap(copyErr, "download")}
		}
		if closeErr != nil {
			return errors.Wrap(closeErr, "close local staging file")
		}
		return s.finishData()
	})
}

// upload sends local's content to remote, creating any missing parent
// directories on the way - the Go equivalent of curl's
// CURLOPT_FTP_CREATE_MISSING_DIRS, which spec §4.2 calls for explicitly.
func (c *ftpClient) upload(local, remote string) error {
	return c.withSession(func(s *session) error {
		if err := c.mkdirAll(s, path.Dir(remote)); err != nil {
			return err
		}
		f, ferr := os.Open(local)
		if ferr != nil {
			return errors.Wrap(ferr, "open local staging file")
		}
		defer f.Close()

		data, err := s.dataConn("STOR %s", remote)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(data, f)
		closeErr := data.Close()
		if copyErr != nil {
			return &connError{errors.Wrap(copyErr, "upload")}
		}
		if closeErr != nil {
			return &connError{errors.Wrap(closeErr, "close data connection")}
		}
		return s.finishData()
	})
}

// mkdirAll creates dir and every missing parent, ignoring "already exists"
// style failures; it must be called with a live session under withSession.
func (c *ftpClient) mkdirAll(s *session, dir string) error {
	if dir == "" || dir == "/" || dir == "." {
		return nil
	}
	comps := splitPathComponents(dir)
	cur := ""
	for _, comp := range comps {
		cur += "/" + comp
		code, _, err := s.cmd("MKD %s", cur)
		if err != nil {
			return err
		}
		// 257 created, 550 typically means it already exists - both are
		// fine; any other permanent failure is reported up.
		if code != 257 && code != 550 {
			return errors.Errorf("MKD %s failed: %d", cur, code)
		}
	}
	return nil
}

func (c *ftpClient) delete(remote string) error {
	return c.withSession(func(s *session) error {
		_, err := s.expect(250, "DELE %s", remote)
		return err
	})
}

func (c *ftpClient) mkdir(remote string) error {
	return c.withSession(func(s *session) error {
		code, msg, err := s.cmd("MKD %s", remote)
		if err != nil {
			return err
		}
		if code != 257 {
			return errors.Errorf("MKD %s failed: %d %s", remote, code, msg)
		}
		return nil
	})
}

func (c *ftpClient) rmdir(remote string) error {
	return c.withSession(func(s *session) error {
		_, err := s.expect(250, "RMD %s", remote)
		return err
	})
}

// rename issues the RNFR/RNTO pair spec §4.2 calls for, back to back on
// the control connection.
func (c *ftpClient) rename(oldPath, newPath string) error {
	return c.withSession(func(s *session) error {
		if _, err := s.expect(350, "RNFR %s", oldPath); err != nil {
			return err
		}
		_, err := s.expect(250, "RNTO %s", newPath)
		return err
	})
}
