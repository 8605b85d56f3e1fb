package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paygram/internal/apperr"
	"paygram/internal/msgid"
)

// Store abstracts the mirror database. Get misses return (nil, nil);
// updates against absent rows return a NOT_FOUND error.
type Store interface {
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfileByWallet(ctx context.Context, wallet string) (*Profile, error)
	GetProfileByID(ctx context.Context, id string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)

	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, ref msgid.Ref) (*Message, error)
	ListMessages(ctx context.Context) ([]Message, error)
	ListMessagesForProfile(ctx context.Context, profileID string) ([]Message, error)
	UpdateMessageStatus(ctx context.Context, rowID string, status Status, txSignature string) error
	UpdateMessageID(ctx context.Context, rowID string, newMessageID string) error
}

// MemoryStore is mostly for testing and key-less local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles []Profile
	messages []Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) CreateProfile(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.profiles = append(m.profiles, *p)
	return nil
}

func (m *MemoryStore) GetProfileByWallet(_ context.Context, wallet string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.profiles {
		if m.profiles[i].WalletAddress == wallet {
			p := m.profiles[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetProfileByID(_ context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.profiles {
		if m.profiles[i].ID == id {
			p := m.profiles[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListProfiles(_ context.Context) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Profile, len(m.profiles))
	copy(out, m.profiles)
	return out, nil
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, ref msgid.Ref) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch ref.Kind {
	case msgid.KindExternal:
		// First insert wins when duplicates exist, matching the
		// created_at ordering of the SQL implementation.
		for i := range m.messages {
			if m.messages[i].MessageID == ref.Value {
				msg := m.messages[i]
				return &msg, nil
			}
		}
	case msgid.KindInternal:
		for i := range m.messages {
			if m.messages[i].ID == ref.Value {
				msg := m.messages[i]
				return &msg, nil
			}
		}
	default:
		return nil, fmt.Errorf("unresolved message reference kind %d", ref.Kind)
	}
	return nil, nil
}

func (m *MemoryStore) ListMessages(_ context.Context) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out, nil
}

func (m *MemoryStore) ListMessagesForProfile(_ context.Context, profileID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Message
	for i := range m.messages {
		if m.messages[i].SenderID == profileID || m.messages[i].RecipientID == profileID {
			out = append(out, m.messages[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateMessageStatus(_ context.Context, rowID string, status Status, txSignature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == rowID {
			m.messages[i].Status = status
			m.messages[i].TransactionSignature = txSignature
			m.messages[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperr.ErrMessageNotFound
}

func (m *MemoryStore) UpdateMessageID(_ context.Context, rowID string, newMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == rowID {
			m.messages[i].MessageID = newMessageID
			m.messages[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperr.ErrMessageNotFound
}
