package aws

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps objects in memory. Tests use it in place of S3.
type MemoryStore struct {
	mu sync.Mutex

	Account string
	// Objects is keyed by "bucket/key".
	Objects map[string]Object
	Deleted []string

	IdentityErr error
	PutErr      error
	DeleteErr   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Account: "123456789012", Objects: make(map[string]Object)}
}

func (m *MemoryStore) Identity(context.Context) (*Identity, error) {
	if m.IdentityErr != nil {
		return nil, m.IdentityErr
	}
	return &Identity{
		Account: m.Account,
		ARN:     "arn:aws:iam::" + m.Account + ":user/schemaguard",
		UserID:  "AIDAMEMORY",
	}, nil
}

func (m *MemoryStore) Put(_ context.Context, bucket string, obj Object) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[bucket+"/"+obj.Key] = obj
	return nil
}

func (m *MemoryStore) DeletePrefix(_ context.Context, bucket, prefix string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	full := bucket + "/" + prefix
	for k := range m.Objects {
		if strings.HasPrefix(k, full) {
			delete(m.Objects, k)
		}
	}
	m.Deleted = append(m.Deleted, full)
	return nil
}

var _ Store = (*MemoryStore)(nil)
