package customer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bakehouse/backoffice/common/model"
	"github.com/bakehouse/backoffice/modules/api"
)

const (
	basePath       = "/customers"
	listCacheTTL   = time.Minute
	itemCacheTTL   = 5 * time.Minute
	searchDebounce = 300 * time.Millisecond
	searchPageSize = 20
)

// CustomerService is a higher-level interface over the customer endpoints.
type CustomerService interface {
	List(ctx context.Context, filter model.CustomerFilter) (*model.Page[model.Customer], error)
	Get(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	Create(ctx context.Context, input model.CustomerInput) (*model.Customer, error)
	Update(ctx context.Context, id uuid.UUID, input model.CustomerInput) (*model.Customer, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Search is meant for search-as-you-type: calls made in quick
	// succession collapse into one request for the latest term.
	Search(ctx context.Context, term string) ([]model.Customer, error)
}

type customerService struct {
	client api.Client
	search *api.DebouncedGet

	mu       sync.Mutex
	listKeys map[string]struct{}
	// gen counts invalidations; a response read under an older gen is stale
	gen uint64
}

// NewCustomerService constructs a CustomerService.
func NewCustomerService(client api.Client) CustomerService {
	return &customerService{
		client:   client,
		search:   client.NewDebouncedGet(searchDebounce),
		listKeys: make(map[string]struct{}),
	}
}

func (s *customerService) List(ctx context.Context, filter model.CustomerFilter) (*model.Page[model.Customer], error) {
	params := filter.Params()
	key := s.client.CacheKey(basePath, params)
	gen := s.generation()

	var page model.Page[model.Customer]
	err := s.client.GetJSON(ctx, basePath, &page, &api.RequestOptions{
		Params:   params,
		UseCache: true,
		CacheTTL: listCacheTTL,
	})
	s.settle(gen, key, true)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *customerService) Get(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	gen := s.generation()

	var c model.Customer
	err := s.client.GetJSON(ctx, itemPath(id), &c, &api.RequestOptions{
		UseCache: true,
		CacheTTL: itemCacheTTL,
	})
	s.settle(gen, s.client.CacheKey(itemPath(id), nil), false)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *customerService) Create(ctx context.Context, input model.CustomerInput) (*model.Customer, error) {
	var c model.Customer
	if err := s.client.PostJSON(ctx, basePath, input, &c, nil); err != nil {
		return nil, err
	}
	s.invalidate(uuid.Nil)
	return &c, nil
}

func (s *customerService) Update(ctx context.Context, id uuid.UUID, input model.CustomerInput) (*model.Customer, error) {
	var c model.Customer
	if err := s.client.PutJSON(ctx, itemPath(id), input, &c, nil); err != nil {
		return nil, err
	}
	s.invalidate(id)
	return &c, nil
}

func (s *customerService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.client.DeleteJSON(ctx, itemPath(id), nil, nil); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *customerService) Search(ctx context.Context, term string) ([]model.Customer, error) {
	filter := model.CustomerFilter{Search: term, PageSize: searchPageSize}
	var page model.Page[model.Customer]
	if err := s.search.Get(ctx, basePath, &page, &api.RequestOptions{Params: filter.Params()}); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (s *customerService) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// settle runs after a cached read. If a write invalidated the cache while the
// read was in flight, the entry it stored predates the write and is dropped.
// Otherwise a list key is remembered for the next invalidation.
func (s *customerService) settle(gen uint64, key string, list bool) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.client.InvalidateCache(key)
		return
	}
	if list {
		s.listKeys[key] = struct{}{}
	}
	s.mu.Unlock()
}

// invalidate drops every cached list page and, when id is set, the item.
func (s *customerService) invalidate(id uuid.UUID) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.listKeys)+1)
	for k := range s.listKeys {
		keys = append(keys, k)
	}
	s.listKeys = make(map[string]struct{})
	s.gen++
	s.mu.Unlock()

	if id != uuid.Nil {
		keys = append(keys, s.client.CacheKey(itemPath(id), nil))
	}
	s.client.InvalidateCache(keys...)
}

func itemPath(id uuid.UUID) string {
	return fmt.Sprintf("%s/%s", basePath, id)
}
