package reporting

import (
	"context"
	"maps"
	"net/http"
	"time"
)

type reportingMetaContextKey struct{}

// ReportingMeta is attached to every Sentry report made with a request context
type ReportingMeta struct {
	tags      map[string]string
	extras    map[string]string
	userID    string
	startedAt time.Time
}

func (m ReportingMeta) clone() ReportingMeta {
	tags := maps.Clone(m.tags)
	if tags == nil {
		tags = make(map[string]string)
	}
	extras := maps.Clone(m.extras)
	if extras == nil {
		extras = make(map[string]string)
	}
	return ReportingMeta{
		tags:      tags,
		extras:    extras,
		userID:    m.userID,
		startedAt: m.startedAt,
	}
}

func (m ReportingMeta) Tags() map[string]string {
	return maps.Clone(m.tags)
}

func (m ReportingMeta) Extras() map[string]string {
	return maps.Clone(m.extras)
}

func (m ReportingMeta) UserID() string {
	return m.userID
}

func MetaFromContext(ctx context.Context) ReportingMeta {
	meta, _ := ctx.Value(reportingMetaContextKey{}).(ReportingMeta)
	return meta.clone()
}

// updateMeta applies update to a private copy of the meta in ctx
func updateMeta(ctx context.Context, update func(meta *ReportingMeta)) context.Context {
	meta := MetaFromContext(ctx)
	update(&meta)
	return context.WithValue(ctx, reportingMetaContextKey{}, meta)
}

func setStartedAtInContext(ctx context.Context, startedAt time.Time) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		meta.startedAt = startedAt
	})
}

func AddExtrasToContext(ctx context.Context, extras map[string]string) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		maps.Copy(meta.extras, extras)
	})
}

func AddTagsToContext(ctx context.Context, tags map[string]string) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		maps.Copy(meta.tags, tags)
	})
}

func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		meta.userID = userID
	})
}

// AddAssetKeyToContext tags reports with the kind of key and records the raw key as an extra.
// The raw key is kept out of the tags to bound their cardinality.
func AddAssetKeyToContext(ctx context.Context, kind string, rawKey string) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		meta.tags["keyKind"] = kind
		meta.extras["rawKey"] = rawKey
	})
}

// UserIDFromRequest reads the client supplied user id, "<missing>" when absent
func UserIDFromRequest(r *http.Request) string {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		return "<missing>"
	}
	return userID
}
