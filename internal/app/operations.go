package app

import (
	"context"
	"time"

	"github.com/Amund211/stockpile/internal/domain"
)

type LoadAsset func(ctx context.Context, key domain.Key, timeout time.Duration) (domain.Asset, error)

type UnloadAsset func(key domain.Key) error

type InstantiateAsset func(ctx context.Context, key domain.Key, placement domain.Placement, timeout time.Duration) (domain.Instance, error)

type ReleaseInstance func(ctx context.Context, id string) error

type PreloadAssets func(ctx context.Context, keys []domain.Key, timeoutPerKey time.Duration) error

type ReleaseAll func() ReleaseSummary

type LowMemorySweep func() SweepSummary

type DumpState func() string
