// Package config is the persisted-settings collaborator. It owns the
// JSON settings file, keeps writes atomic, and backs the session
// manager's token store.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rakanbakir/samsungctl/internal/domain"
)

const fileName = "samsungctl.conf"

// Settings is the full persisted state. Field names match the on-disk
// format the original tooling wrote.
type Settings struct {
	Host             string   `json:"host"`
	Port             int      `json:"port"`
	Method           string   `json:"method"`
	Name             string   `json:"name"`
	Timeout          int      `json:"timeout"`
	Token            string   `json:"token,omitempty"`
	Paired           bool     `json:"paired"`
	DiscoverySubnets []string `json:"discovery_subnets,omitempty"`
}

func Default() Settings {
	return Settings{
		Port:    domain.PortWebsocket,
		Method:  string(domain.MethodWebsocket),
		Name:    "samsungctl",
		Timeout: 5,
	}
}

// DefaultPath is ~/.config/samsungctl.conf.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", fileName), nil
}

// File is a settings file handle. Safe for concurrent use.
type File struct {
	path string

	mu       sync.Mutex
	settings Settings
}

// Open loads the settings file; a missing file yields defaults.
func Open(path string) (*File, error) {
	f := &File{path: path, settings: Default()}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(raw, &f.settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Settings() Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

// Update mutates the settings and persists them atomically.
func (f *File) Update(fn func(*Settings)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.settings)
	return f.saveLocked()
}

// saveLocked writes to a temp file and renames it over the target so a
// crash never leaves a torn settings file.
func (f *File) saveLocked() error {
	data, err := json.MarshalIndent(f.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Endpoint builds the configured endpoint from the persisted fields.
func (f *File) Endpoint() (domain.Endpoint, error) {
	s := f.Settings()
	method, err := domain.ParseMethod(s.Method)
	if err != nil {
		return domain.Endpoint{}, err
	}
	port := s.Port
	if port == 0 {
		port = method.DefaultPort()
	}
	return domain.Endpoint{
		Host:        s.Host,
		Port:        port,
		Method:      method,
		DisplayName: s.Name,
	}, nil
}

// Credential implements remote.TokenStore. The settings file tracks one
// TV; credentials for any other host are unknown.
func (f *File) Credential(host string) domain.PairingCredential {
	f.mu.Lock()
	defer f.mu.Unlock()
	if host != f.settings.Host {
		return domain.PairingCredential{}
	}
	return domain.PairingCredential{Token: f.settings.Token, Paired: f.settings.Paired}
}

// SaveCredential implements remote.TokenStore. Pairing with a new host
// repoints the settings at it, matching the connect-after-discovery flow.
func (f *File) SaveCredential(host string, cred domain.PairingCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.Host = host
	f.settings.Token = cred.Token
	f.settings.Paired = cred.Paired
	return f.saveLocked()
}

// LocalSubnet derives the /24 of the first non-loopback IPv4 interface,
// the default scan set when no discovery_subnets are configured.
func LocalSubnet() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		parts := strings.Split(ipnet.IP.String(), ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.%s.0/24", parts[0], parts[1], parts[2]), nil
		}
	}
	return "", errors.New("no usable IPv4 interface found")
}
