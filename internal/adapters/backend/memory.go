package backend

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Amund211/stockpile/internal/domain"
)

// MemoryStore is an AssetStore kept in process memory, for development and tests
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]StoredAsset
}

var _ AssetStore = (*MemoryStore)(nil)

func NewMemoryStore(assets ...StoredAsset) (*MemoryStore, error) {
	store := &MemoryStore{
		assets: make(map[string]StoredAsset),
	}
	for _, asset := range assets {
		if err := store.PutAsset(context.Background(), asset); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func validateStoredAsset(asset StoredAsset) (StoredAsset, error) {
	if asset.Address == "" {
		return StoredAsset{}, fmt.Errorf("%w: asset has no address", domain.ErrInvalidKey)
	}
	if asset.ContentType == "" {
		asset.ContentType = "application/octet-stream"
	}
	asset.Reference = strings.ToLower(asset.Reference)
	asset.Labels = slices.Clone(asset.Labels)
	if asset.Labels == nil {
		asset.Labels = []string{}
	}
	return asset, nil
}

func (s *MemoryStore) PutAsset(ctx context.Context, asset StoredAsset) error {
	asset, err := validateStoredAsset(asset)
	if err != nil {
		return err
	}
	asset.Data = slices.Clone(asset.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset.Address] = asset
	return nil
}

func (s *MemoryStore) GetAsset(ctx context.Context, key domain.Key) (domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return domain.Asset{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *StoredAsset
	switch key.Kind() {
	case domain.KeyKindAddress:
		if asset, ok := s.assets[key.Value()]; ok {
			found = &asset
		}
	case domain.KeyKindLabel, domain.KeyKindReference:
		for _, asset := range s.assets {
			matches := asset.Reference == key.Value()
			if key.Kind() == domain.KeyKindLabel {
				matches = slices.Contains(asset.Labels, key.Value())
			}
			if matches && (found == nil || asset.Address < found.Address) {
				found = &asset
			}
		}
	}

	if found == nil {
		return domain.Asset{}, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, key)
	}

	return domain.Asset{
		Key:         key,
		Address:     found.Address,
		ContentType: found.ContentType,
		Data:        slices.Clone(found.Data),
	}, nil
}
