package providers

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Pool caches SDK clients by credential key. Concurrent misses for the same
// key build the client once.
type Pool[T any] struct {
	clients sync.Map
	sf      singleflight.Group
}

func (p *Pool[T]) Get(key string, build func() (T, error)) (T, error) {
	if v, ok := p.clients.Load(key); ok {
		if client, ok := v.(T); ok {
			return client, nil
		}
	}
	v, err, _ := p.sf.Do(key, func() (any, error) {
		if v, ok := p.clients.Load(key); ok {
			return v, nil
		}
		client, err := build()
		if err != nil {
			return nil, err
		}
		p.clients.Store(key, client)
		return client, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	client, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("invalid client type in pool: %T", v)
	}
	return client, nil
}
