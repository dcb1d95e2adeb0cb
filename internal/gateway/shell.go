package gateway

import (
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// DefaultShellAssets is the fixed list of static shell paths precached at
// install time.
var DefaultShellAssets = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/offline.html",
	"/icons/icon-192.png",
	"/icons/badge-72.png",
}

// offlineFallback is served for navigations when the network is down, the
// dynamic cache is empty, and the shell filesystem has no offline document.
const offlineFallback = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You're offline</h1><p>Your alarms keep running. Reconnect to sync.</p></body>
</html>
`

// Shell reads the static app shell from a filesystem: the OS directory the
// app build was deployed to in production, an in-memory fs in tests.
type Shell struct {
	fs     afero.Fs
	assets []string
}

// NewShell creates a Shell over fs. A nil asset list means
// DefaultShellAssets.
func NewShell(fs afero.Fs, assets []string) *Shell {
	if assets == nil {
		assets = DefaultShellAssets
	}
	return &Shell{fs: fs, assets: assets}
}

// Assets returns the shell path list.
func (s *Shell) Assets() []string {
	return s.assets
}

// Contains reports whether p is a shell path.
func (s *Shell) Contains(p string) bool {
	for _, a := range s.assets {
		if a == p {
			return true
		}
	}
	return false
}

// Read returns the body and content type for a shell path. "/" resolves to
// the index document.
func (s *Shell) Read(p string) ([]byte, string, error) {
	file := p
	if file == "/" {
		file = "/index.html"
	}
	body, err := afero.ReadFile(s.fs, strings.TrimPrefix(file, "/"))
	if err != nil {
		return nil, "", fmt.Errorf("shell: read %s: %w", p, err)
	}
	return body, contentTypeFor(file), nil
}

// Offline returns the canonical offline document, falling back to a built-in
// page when the shell has none.
func (s *Shell) Offline() []byte {
	body, _, err := s.Read("/offline.html")
	if err != nil {
		return []byte(offlineFallback)
	}
	return body
}

func contentTypeFor(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "text/html; charset=utf-8"
}
