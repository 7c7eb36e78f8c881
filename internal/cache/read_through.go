package cache

import "context"

// ReadThrough answers batch designator lookups from the store and fetches
// only the misses from the backend, caching what comes back. keyFn extracts
// the designator from a fetched value.
type ReadThrough[V any] struct {
	store  *Store[V]
	fetch  func(ctx context.Context, designators []string) ([]V, error)
	keyFn  func(V) string
	bypass bool
}

func NewReadThrough[V any](
	store *Store[V],
	fetch func(ctx context.Context, designators []string) ([]V, error),
	keyFn func(V) string,
	bypass bool,
) *ReadThrough[V] {
	return &ReadThrough[V]{
		store:  store,
		fetch:  fetch,
		keyFn:  keyFn,
		bypass: bypass,
	}
}

// Get resolves the requested designators, in request order. Designators the
// backend does not return are simply absent from the result.
func (r *ReadThrough[V]) Get(ctx context.Context, designators []string) ([]V, error) {
	if r.bypass {
		return r.fetch(ctx, designators)
	}

	hits, missing := r.store.GetMany(designators)
	if len(missing) > 0 {
		fetched, err := r.fetch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, v := range fetched {
			key := r.keyFn(v)
			hits[key] = v
			r.store.Set(key, v)
		}
	}

	out := make([]V, 0, len(hits))
	for _, d := range designators {
		if v, ok := hits[d]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Invalidate drops cached entries after a write changed them upstream.
func (r *ReadThrough[V]) Invalidate(designators ...string) {
	r.store.Delete(designators...)
}
