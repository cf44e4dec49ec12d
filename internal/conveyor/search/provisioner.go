package search

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

// IndexProvider can create search indices on demand.
type IndexProvider interface {
	EnsureIndex(ctx context.Context, name string) error
}

// Provisioner memoizes successful index creation so the consumer does not
// issue a PUT per job. Entries expire, so an index deleted out-of-band gets
// recreated eventually.
type Provisioner struct {
	provider IndexProvider
	known    *cache.Cache
}

func NewProvisioner(provider IndexProvider, expiry time.Duration) *Provisioner {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Provisioner{
		provider: provider,
		known:    cache.New(expiry, 2*expiry),
	}
}

// EnsureIndex creates the index unless a recent successful creation is
// cached. Failures are not cached.
func (p *Provisioner) EnsureIndex(ctx context.Context, name string) error {
	if _, ok := p.known.Get(name); ok {
		return nil
	}
	if err := p.provider.EnsureIndex(ctx, name); err != nil {
		return err
	}
	log.WithField("index", name).Debug("Index is provisioned")
	p.known.SetDefault(name, true)
	return nil
}
