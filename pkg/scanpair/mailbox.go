package scanpair

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/goscan/internal/crypto"
)

// MobileAuthContext is what the phone must remember across the identity
// provider round trip.
type MobileAuthContext struct {
	ScanSessionID string    `json:"scanSessionId"`
	AuthToken     string    `json:"authToken"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Mailbox holds at most one MobileAuthContext. An occupied mailbox means a
// handoff is in progress.
type Mailbox interface {
	// Put stores ctx. It fails with ErrMailboxOccupied if a context is held.
	Put(ctx MobileAuthContext) error
	// Take returns the held context and removes it.
	Take() (MobileAuthContext, error)
	// Discard removes any held context. It succeeds on an empty mailbox.
	Discard() error
}

// MemoryMailbox keeps the context in process memory.
type MemoryMailbox struct {
	mu  sync.Mutex
	ctx *MobileAuthContext
}

func NewMemoryMailbox() *MemoryMailbox { return &MemoryMailbox{} }

func (m *MemoryMailbox) Put(ctx MobileAuthContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return ErrMailboxOccupied
	}
	m.ctx = &ctx
	return nil
}

func (m *MemoryMailbox) Take() (MobileAuthContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return MobileAuthContext{}, ErrMailboxEmpty
	}
	ctx := *m.ctx
	m.ctx = nil
	return ctx, nil
}

func (m *MemoryMailbox) Discard() error {
	m.mu.Lock()
	m.ctx = nil
	m.mu.Unlock()
	return nil
}

const (
	keyringService = "goscan"
	keyringUser    = "mobile-auth-context"
)

// KeyringMailbox stores the context in the OS credential store.
type KeyringMailbox struct {
	service string
	mu      sync.Mutex
}

// NewKeyringMailbox uses service as the keyring service name ("goscan" when empty).
func NewKeyringMailbox(service string) *KeyringMailbox {
	if service == "" {
		service = keyringService
	}
	return &KeyringMailbox{service: service}
}

func (m *KeyringMailbox) Put(ctx MobileAuthContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := keyring.Get(m.service, keyringUser); err == nil {
		return ErrMailboxOccupied
	} else if !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring get: %w", err)
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return err
	}
	if err := keyring.Set(m.service, keyringUser, string(data)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (m *KeyringMailbox) Take() (MobileAuthContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := keyring.Get(m.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return MobileAuthContext{}, ErrMailboxEmpty
	}
	if err != nil {
		return MobileAuthContext{}, fmt.Errorf("keyring get: %w", err)
	}
	if err := keyring.Delete(m.service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return MobileAuthContext{}, fmt.Errorf("keyring delete: %w", err)
	}
	var ctx MobileAuthContext
	if err := json.Unmarshal([]byte(raw), &ctx); err != nil {
		return MobileAuthContext{}, fmt.Errorf("decode mailbox: %w", err)
	}
	return ctx, nil
}

func (m *KeyringMailbox) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := keyring.Delete(m.service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

// FileMailbox stores the context in a single 0600 file, AES-GCM sealed
// when a key is configured. The file is created exclusively, so two
// processes cannot both hold a context.
type FileMailbox struct {
	path string
	key  string
	mu   sync.Mutex
}

const mailboxPurpose = "goscan mobile auth context"

func NewFileMailbox(dir, key string) *FileMailbox {
	return &FileMailbox{path: filepath.Join(dir, "mobile-auth.json"), key: key}
}

func (m *FileMailbox) Put(ctx MobileAuthContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(ctx)
	if err != nil {
		return err
	}
	sealed, err := crypto.Seal(data, m.key, mailboxPurpose)
	if err != nil {
		return fmt.Errorf("seal mailbox: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return ErrMailboxOccupied
	}
	if err != nil {
		return fmt.Errorf("create mailbox: %w", err)
	}
	if _, err := f.WriteString(sealed); err != nil {
		f.Close()
		os.Remove(m.path)
		return fmt.Errorf("write mailbox: %w", err)
	}
	return f.Close()
}

func (m *FileMailbox) Take() (MobileAuthContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return MobileAuthContext{}, ErrMailboxEmpty
	}
	if err != nil {
		return MobileAuthContext{}, fmt.Errorf("read mailbox: %w", err)
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return MobileAuthContext{}, fmt.Errorf("remove mailbox: %w", err)
	}
	plain, err := crypto.Open(string(raw), m.key, mailboxPurpose)
	if err != nil {
		return MobileAuthContext{}, fmt.Errorf("open mailbox: %w", err)
	}
	var ctx MobileAuthContext
	if err := json.Unmarshal(plain, &ctx); err != nil {
		return MobileAuthContext{}, fmt.Errorf("decode mailbox: %w", err)
	}
	return ctx, nil
}

func (m *FileMailbox) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
