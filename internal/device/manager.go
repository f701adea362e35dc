package device

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"carlink-backend/config"
	"carlink-backend/internal/store"
	"carlink-backend/internal/vehicle"
)

// Shortener turns the remote-refresh webhook URL into something that fits
// in an SMS or a QR code.
type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

// Manager owns one device per configured vehicle. All devices share the
// account handle and the collaborator clients.
type Manager struct {
	cfg       *config.Config
	store     store.Store
	account   vehicle.Account
	collab    Collaborators
	shortener Shortener

	mu      sync.Mutex
	ctx     context.Context
	devices map[string]*Device
}

// NewManager builds the device set from the configuration. StartAll must
// be called to begin polling.
func NewManager(cfg *config.Config, st store.Store, account vehicle.Account, collab Collaborators, shortener Shortener) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		account:   account,
		collab:    collab,
		shortener: shortener,
		devices:   make(map[string]*Device),
	}
}

// StartAll creates and starts a device for every configured vehicle.
// Vehicles with an implausible VIN are skipped with a log line instead of
// failing the whole daemon.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
	for _, vc := range m.cfg.Vehicles {
		if len(vc.VIN) <= 5 {
			log.Printf("skipping vehicle %q: VIN %q is not plausible", vc.Name, vc.VIN)
			continue
		}
		if _, ok := m.devices[vc.VIN]; ok {
			continue
		}
		d := New(m.cfg.DeviceSettings(vc), m.store, m.account, m.collab)
		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("starting device %s: %w", vc.Name, err)
		}
		m.devices[vc.VIN] = d
	}
	if len(m.devices) == 0 {
		return fmt.Errorf("no usable vehicles configured")
	}
	return nil
}

// ApplySettings stops a vehicle's device and starts a replacement with
// the new snapshot. Settings are immutable for a running device, so a
// change is a generation swap, never an in-place mutation.
func (m *Manager) ApplySettings(vin string, s config.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.devices[vin]
	if !ok {
		return fmt.Errorf("unknown vehicle %s", vin)
	}
	s.VIN = vin
	old.Stop()
	log.Printf("%s: settings changed, restarting device", s.Name)
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	d := New(s, m.store, m.account, m.collab)
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("restarting device %s: %w", s.Name, err)
	}
	m.devices[vin] = d
	return nil
}

// StopAll shuts every device down.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		d.Stop()
	}
}

// Get returns the device for a VIN, nil when unknown.
func (m *Manager) Get(vin string) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[vin]
}

// All returns the devices sorted by display name.
func (m *Manager) All() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// RemoteRefresh handles the unauthenticated webhook: a matching secret
// forces a live refresh on the owning device. Reports whether any device
// matched.
func (m *Manager) RemoteRefresh(secret string) bool {
	if len(secret) <= 5 {
		return false
	}
	for _, d := range m.All() {
		if d.Settings().RemoteSecret == secret {
			d.RefreshStatus(true, "cloud")
			return true
		}
	}
	return false
}

// RemoteURL builds the remote-refresh webhook URL for a device, shortened
// when a shortener is configured. An empty string means the feature is not
// configured for this vehicle.
func (m *Manager) RemoteURL(ctx context.Context, vin string) string {
	d := m.Get(vin)
	if d == nil {
		return ""
	}
	secret := d.Settings().RemoteSecret
	if len(secret) <= 5 || m.cfg.Remote.PublicURL == "" {
		return ""
	}
	long := fmt.Sprintf("%s/api/live?secret=%s", m.cfg.Remote.PublicURL, secret)
	if m.shortener == nil || !m.cfg.Remote.ShortenURL {
		return long
	}
	short, err := m.shortener.Shorten(ctx, long)
	if err != nil {
		log.Printf("%s: url shorten failed: %v", d.Name(), err)
		return long
	}
	return short
}
