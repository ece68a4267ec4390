package document

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"syscall"
)

var (
	// ErrLocalDisabled is returned for local documents when no root is configured.
	ErrLocalDisabled = errors.New("local documents are disabled")
	// ErrOutsideRoot is returned for local documents that resolve outside the root.
	ErrOutsideRoot = errors.New("document is outside the local document root")
	// ErrPrivateHost is returned when a remote document resolves to a
	// loopback, private or link-local address.
	ErrPrivateHost = errors.New("document host is not publicly routable")
)

// Access limits which documents may be opened.
//
// Local paths are only served from under LocalRoot, after symlinks are
// resolved; an empty root disables them. Remote hosts on loopback, private
// and link-local networks are refused unless AllowPrivateHosts is set.
type Access struct {
	LocalRoot         string
	AllowPrivateHosts bool
}

// Check validates rawURL. For local documents it returns the resolved
// filesystem path; for remote ones it returns "".
func (a Access) Check(rawURL string) (string, error) {
	if path, ok := LocalPath(rawURL); ok {
		return a.ResolveLocal(path)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if a.AllowPrivateHosts {
		return "", nil
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return "", ErrPrivateHost
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return "", ErrPrivateHost
	}
	return "", nil
}

// ResolveLocal resolves path and returns it if it lies under LocalRoot.
func (a Access) ResolveLocal(path string) (string, error) {
	if a.LocalRoot == "" {
		return "", ErrLocalDisabled
	}

	root, err := filepath.Abs(a.LocalRoot)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve document: %w", err)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return resolved, nil
}

// dialControl refuses connections to non-public addresses. It runs after
// name resolution, so a public name pointing at a private address is caught.
func (a Access) dialControl(_, address string, _ syscall.RawConn) error {
	if a.AllowPrivateHosts {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || isPrivateIP(ip) {
		return ErrPrivateHost
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast()
}
