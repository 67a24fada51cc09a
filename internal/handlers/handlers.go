// Package handlers implements the pipeline stages a consumer can be configured with.
package handlers

import (
	"time"

	"usagerelay/internal/archive"
	"usagerelay/internal/auth"
	"usagerelay/internal/config"
	"usagerelay/internal/delivery"
	"usagerelay/internal/filtering"
	"usagerelay/internal/logger"
	"usagerelay/internal/persistence"
	"usagerelay/internal/pipeline"
)

const (
	NameAtomPub       = "atompub"
	NameCufPub        = "cufpub"
	NameStackTach     = "stacktach"
	NameElasticsearch = "elasticsearch"
	NameShoebox       = "shoebox"
	NamePersistence   = "persistence"
	NameHub           = "hub"
)

// Deps are the shared resources handlers are built from. Store and Archive are
// owned by the caller and outlive every handler.
type Deps struct {
	Config  *config.Config
	Logger  logger.Logger
	Auth    auth.Strategy
	Store   persistence.Store
	Archive archive.Callback

	// EngineOptions are passed to every delivery engine.
	EngineOptions []delivery.EngineOption
	Now           func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) strategy() auth.Strategy {
	if d.Auth == nil {
		return auth.NoAuth{}
	}
	return d.Auth
}

func (d Deps) base(name string, autoAck bool) pipeline.Base {
	return pipeline.NewBase(name, filtering.SpecFor(d.Config, name), autoAck, d.Logger.With("handler", name))
}

// ForQueue returns deps whose Config carries the handler overrides of the
// consumer reading queue.
func (d Deps) ForQueue(queue string) (Deps, error) {
	if d.Config == nil {
		return d, nil
	}
	scoped, err := d.Config.ForQueue(queue)
	if err != nil {
		return d, err
	}
	d.Config = scoped
	return d, nil
}

// Register adds a constructor for every handler to reg. Each consumer gets its
// own handler instances, built from its own view of the handler sections.
func Register(reg *pipeline.Registry, deps Deps) {
	register := func(name string, build func(Deps) (pipeline.Handler, error)) {
		reg.Register(name, func(queue string) (pipeline.Handler, error) {
			scoped, err := deps.ForQueue(queue)
			if err != nil {
				return nil, err
			}
			return build(scoped)
		})
	}
	register(NameAtomPub, func(d Deps) (pipeline.Handler, error) { return NewAtomPub(d) })
	register(NameCufPub, func(d Deps) (pipeline.Handler, error) { return NewCufPub(d) })
	register(NameStackTach, func(d Deps) (pipeline.Handler, error) { return NewStackTach(d) })
	register(NameElasticsearch, func(d Deps) (pipeline.Handler, error) { return NewElasticsearch(d) })
	register(NameShoebox, func(d Deps) (pipeline.Handler, error) { return NewShoebox(d) })
	register(NamePersistence, func(d Deps) (pipeline.Handler, error) { return NewPersister(d) })
	register(NameHub, func(d Deps) (pipeline.Handler, error) { return NewHub(d) })
}
