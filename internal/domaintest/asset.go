package domaintest

import (
	"slices"
	"time"

	"github.com/Amund211/stockpile/internal/adapters/backend"
	"github.com/Amund211/stockpile/internal/domain"
)

type storedAssetBuilder struct {
	asset backend.StoredAsset
}

func (b *storedAssetBuilder) WithLabels(labels ...string) *storedAssetBuilder {
	b.asset.Labels = append(b.asset.Labels, labels...)
	return b
}

func (b *storedAssetBuilder) WithReference(reference string) *storedAssetBuilder {
	b.asset.Reference = reference
	return b
}

func (b *storedAssetBuilder) WithContentType(contentType string) *storedAssetBuilder {
	b.asset.ContentType = contentType
	return b
}

func (b *storedAssetBuilder) WithData(data []byte) *storedAssetBuilder {
	b.asset.Data = data
	return b
}

func (b *storedAssetBuilder) Build() backend.StoredAsset {
	// Copy, so further mutations to the builder don't affect the returned asset
	asset := b.asset
	asset.Labels = slices.Clone(b.asset.Labels)
	asset.Data = slices.Clone(b.asset.Data)
	return asset
}

func NewStoredAsset(address string) *storedAssetBuilder {
	return &storedAssetBuilder{
		asset: backend.StoredAsset{
			Address:     address,
			ContentType: "application/octet-stream",
			Data:        []byte("contents of " + address),
		},
	}
}

type assetBuilder struct {
	asset domain.Asset
}

func (b *assetBuilder) WithAddress(address string) *assetBuilder {
	b.asset.Address = address
	return b
}

func (b *assetBuilder) WithData(data []byte) *assetBuilder {
	b.asset.Data = data
	return b
}

func (b *assetBuilder) Build() domain.Asset {
	asset := b.asset
	asset.Data = slices.Clone(b.asset.Data)
	return asset
}

// NewAssetBuilder builds a loaded asset for key. Address keys use their value as address.
func NewAssetBuilder(key domain.Key, loadedAt time.Time) *assetBuilder {
	address := key.Value()
	if key.Kind() != domain.KeyKindAddress {
		address = "resolved/" + key.Value()
	}
	return &assetBuilder{
		asset: domain.Asset{
			Key:         key,
			Address:     address,
			ContentType: "application/octet-stream",
			Data:        []byte("contents of " + address),
			LoadedAt:    loadedAt,
		},
	}
}
