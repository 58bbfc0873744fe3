package rowcount

import (
	"context"
	"sync"

	"github.com/schemaguard/schemaguard/internal/schema"
)

// MockProvider is a test double for the Provider interface.
type MockProvider struct {
	ConnectErr error

	Counts map[schema.TableRef]int64
	Errs   map[schema.TableRef]error

	mu        sync.Mutex
	Connected bool
	Closed    bool
	Calls     int
}

func (m *MockProvider) Connect(_ context.Context) error {
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.Connected = true
	return nil
}

func (m *MockProvider) RowCount(_ context.Context, ref schema.TableRef) (int64, bool, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if err := m.Errs[ref]; err != nil {
		return 0, false, err
	}
	n, ok := m.Counts[ref]
	return n, ok, nil
}

func (m *MockProvider) Close() error {
	m.Closed = true
	return nil
}

var _ Provider = (*MockProvider)(nil)
