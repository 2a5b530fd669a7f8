package service

import (
	"context"

	"github.com/atelierhq/atelier/internal/storage"
)

// rewriteConfig walks the request parameters and exchanges every external
// URL for an internal storage key. The rewrite is all-or-nothing: if any raw
// URL survives the pass (a resolver failure, or a URL nested somewhere the
// walk could not rewrite), the ORIGINAL parameters are returned unchanged so
// a half-converted structure is never persisted. The second return reports
// whether the rewritten copy was accepted.
func rewriteConfig(ctx context.Context, resolver storage.Resolver, params map[string]any) (map[string]any, bool) {
	if len(params) == 0 {
		return params, true
	}

	rewritten, ok := rewriteValue(ctx, resolver, params)
	if !ok {
		return params, false
	}
	out := rewritten.(map[string]any)
	if containsExternalURL(out) {
		return params, false
	}
	return out, true
}

func rewriteValue(ctx context.Context, resolver storage.Resolver, v any) (any, bool) {
	switch val := v.(type) {
	case string:
		if !storage.IsExternalURL(val) {
			return val, true
		}
		key, err := resolver.StoreFromURL(ctx, val)
		if err != nil {
			return val, false
		}
		return key, true
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			rw, ok := rewriteValue(ctx, resolver, inner)
			if !ok {
				return val, false
			}
			out[k] = rw
		}
		return out, true
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			rw, ok := rewriteValue(ctx, resolver, inner)
			if !ok {
				return val, false
			}
			out[i] = rw
		}
		return out, true
	default:
		return val, true
	}
}

// containsExternalURL is the post-condition check on a rewritten structure.
func containsExternalURL(v any) bool {
	switch val := v.(type) {
	case string:
		return storage.IsExternalURL(val)
	case map[string]any:
		for _, inner := range val {
			if containsExternalURL(inner) {
				return true
			}
		}
	case []any:
		for _, inner := range val {
			if containsExternalURL(inner) {
				return true
			}
		}
	}
	return false
}
