package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/go-redis/redis/v8"

	"moff.io/moff-estate/pkg/errors"
)

// Favorites stores the saved property ids of each wallet address.
type Favorites interface {
	Add(ctx context.Context, address, propertyID string) error
	Remove(ctx context.Context, address, propertyID string) error
	// List returns the ids sorted ascending.
	List(ctx context.Context, address string) ([]string, error)
}

func favoritesKey(address string) string {
	return fmt.Sprintf("favorites:%v", address)
}

type redisFavorites struct {
	client *redis.Client
}

func NewRedisFavorites(client *redis.Client) Favorites {
	return &redisFavorites{client: client}
}

func (r *redisFavorites) Add(ctx context.Context, address, propertyID string) error {
	if err := r.client.SAdd(ctx, favoritesKey(address), propertyID).Err(); err != nil {
		return errors.WrapAndReportContext(ctx, err, "add favorite")
	}
	return nil
}

func (r *redisFavorites) Remove(ctx context.Context, address, propertyID string) error {
	if err := r.client.SRem(ctx, favoritesKey(address), propertyID).Err(); err != nil {
		return errors.WrapAndReportContext(ctx, err, "remove favorite")
	}
	return nil
}

func (r *redisFavorites) List(ctx context.Context, address string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, favoritesKey(address)).Result()
	if err != nil {
		return nil, errors.WrapAndReportContext(ctx, err, "list favorites")
	}
	sort.Strings(ids)
	return ids, nil
}

type memoryFavorites struct {
	mu   sync.Mutex
	sets map[string]*treeset.Set
}

// NewMemoryFavorites keeps favorites in process memory; used when redis is not configured.
func NewMemoryFavorites() Favorites {
	return &memoryFavorites{sets: make(map[string]*treeset.Set)}
}

func (m *memoryFavorites) Add(_ context.Context, address, propertyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[address]
	if !ok {
		set = treeset.NewWithStringComparator()
		m.sets[address] = set
	}
	set.Add(propertyID)
	return nil
}

func (m *memoryFavorites) Remove(_ context.Context, address, propertyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[address]; ok {
		set.Remove(propertyID)
		if set.Empty() {
			delete(m.sets, address)
		}
	}
	return nil
}

func (m *memoryFavorites) List(_ context.Context, address string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	set, ok := m.sets[address]
	if !ok {
		return ids, nil
	}
	for _, v := range set.Values() {
		ids = append(ids, v.(string))
	}
	return ids, nil
}
