package hsm

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// MemoryClient is a deterministic, in-process stand-in for the real HSM
// session protocol. It derives keys with HMAC-SHA256 over
// masterKey||purpose||salt||derivationData, which is not what the real
// HSM does internally but satisfies the same contract the domain layer
// depends on: identical (purpose, data, generation) always yields the
// identical key, and two different generations never collide.
//
// Modeled on the pack's habit of shipping an in-memory fake alongside a
// narrow collaborator interface (e.g. kubernaut's repository mocks) so
// the domain and storage layers can be tested without a real HSM.
type MemoryClient struct {
	mu         sync.Mutex
	masterKeys map[Purpose][]byte
	blobID     BlobID

	kvnrHmacKey      []byte
	telematikHmacKey []byte
	cmacKeys         map[string][]byte
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		masterKeys: make(map[Purpose][]byte),
		blobID:     1,
		cmacKeys:   make(map[string][]byte),
	}
}

func (m *MemoryClient) masterKey(purpose Purpose) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.masterKeys[purpose]; ok {
		return k
	}
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		panic(fmt.Sprintf("hsm memory client: %v", err))
	}
	m.masterKeys[purpose] = k
	return k
}

func (m *MemoryClient) derive(purpose Purpose, derivationData []byte, existing *Generation) ([]byte, *Generation, error) {
	gen := existing
	if gen == nil {
		salt := make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
		m.mu.Lock()
		m.blobID++
		id := m.blobID
		m.mu.Unlock()
		gen = &Generation{BlobID: id, Salt: salt}
	}

	mac := hmac.New(sha256.New, m.masterKey(purpose))
	mac.Write([]byte{byte(purpose)})
	mac.Write(gen.Salt)
	mac.Write(derivationData)
	return mac.Sum(nil), gen, nil
}

func (m *MemoryClient) DeriveTaskPersistenceKey(_ context.Context, data []byte, existing *Generation) ([]byte, *Generation, error) {
	return m.derive(PurposeTask, data, existing)
}

func (m *MemoryClient) DeriveAuditLogPersistenceKey(_ context.Context, data []byte, existing *Generation) ([]byte, *Generation, error) {
	return m.derive(PurposeAuditEvent, data, existing)
}

func (m *MemoryClient) DeriveCommunicationPersistenceKey(_ context.Context, data []byte, existing *Generation) ([]byte, *Generation, error) {
	return m.derive(PurposeCommunication, data, existing)
}

func (m *MemoryClient) DeriveChargeItemPersistenceKey(_ context.Context, data []byte, existing *Generation) ([]byte, *Generation, error) {
	return m.derive(PurposeChargeItem, data, existing)
}

func (m *MemoryClient) LatestBlobID(_ context.Context, _ Purpose) (BlobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobID, nil
}

func (m *MemoryClient) KvnrHmacKey(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kvnrHmacKey == nil {
		m.kvnrHmacKey = make([]byte, 32)
		if _, err := rand.Read(m.kvnrHmacKey); err != nil {
			return nil, err
		}
	}
	return m.kvnrHmacKey, nil
}

func (m *MemoryClient) TelematikIdHmacKey(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.telematikHmacKey == nil {
		m.telematikHmacKey = make([]byte, 32)
		if _, err := rand.Read(m.telematikHmacKey); err != nil {
			return nil, err
		}
	}
	return m.telematikHmacKey, nil
}

func (m *MemoryClient) Cmac(_ context.Context, validDate time.Time, category string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fmt.Sprintf("%s/%s", validDate.UTC().Format("2006-01-02"), category)
	if key, ok := m.cmacKeys[k]; ok {
		return key, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	m.cmacKeys[k] = key
	return key, nil
}

var _ Client = (*MemoryClient)(nil)

// MemorySaltStore is an in-process SaltStore used by tests exercising the
// race protocol without a real database.
type MemorySaltStore struct {
	mu   sync.Mutex
	rows map[string]Generation
}

func NewMemorySaltStore() *MemorySaltStore {
	return &MemorySaltStore{rows: make(map[string]Generation)}
}

// saltKey includes blobID so the fake can hold more than one generation
// per (account, purpose) at once, the same way the real account table's
// primary key is (account_id, master_key_type, blob_id).
func saltKey(account []byte, purpose Purpose, blobID BlobID) string {
	return fmt.Sprintf("%x/%d/%d", account, purpose, blobID)
}

func (s *MemorySaltStore) GetGeneration(_ context.Context, account []byte, purpose Purpose, blobID BlobID) (Generation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.rows[saltKey(account, purpose, blobID)]
	return gen, ok, nil
}

func (s *MemorySaltStore) InsertGeneration(_ context.Context, account []byte, purpose Purpose, gen Generation) (Generation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := saltKey(account, purpose, gen.BlobID)
	if existing, ok := s.rows[key]; ok {
		return existing, false, nil
	}
	s.rows[key] = gen
	return gen, true, nil
}

var _ SaltStore = (*MemorySaltStore)(nil)
