// Package api is the HTTP surface of the collection engine. Every route
// except /health needs a bearer token; the token's project scopes all
// lookups, and rows of other projects answer 404.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/configstore"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/linked"
	"github.com/conduit-lang/collections/internal/orm/query"
	"github.com/conduit-lang/collections/internal/orm/relationships"
	"github.com/conduit-lang/collections/internal/orm/store"
	"github.com/conduit-lang/collections/internal/web/auth"
	"github.com/conduit-lang/collections/internal/web/middleware"
	"github.com/conduit-lang/collections/internal/web/ratelimit"
	"github.com/conduit-lang/collections/internal/web/response"
	"github.com/conduit-lang/collections/internal/web/stream"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Options configures the API.
type Options struct {
	Logger *zap.Logger
	// Limiter throttles writes per project; nil disables it
	Limiter ratelimit.Limiter
	// RequestTimeout bounds every request except the event stream; zero
	// disables it
	RequestTimeout time.Duration
	// Events feeds GET /events; nil answers 404
	Events *stream.Broker
}

// API serves the engine over HTTP.
type API struct {
	store     *store.Store
	relations *relationships.Engine
	linked    *linked.Resolver
	configs   *configstore.Store
	tokens    *auth.TokenService
	opts      Options
	logger    *zap.Logger
}

// New creates the API.
func New(s *store.Store, rel *relationships.Engine, lr *linked.Resolver, configs *configstore.Store, tokens *auth.TokenService, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{store: s, relations: rel, linked: lr, configs: configs, tokens: tokens, opts: opts, logger: logger}
}

// Router builds the chi router.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger.Named("http"), "/health"))
	r.Use(middleware.Recovery(a.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(a.tokens))
		if a.opts.Limiter != nil {
			r.Use(middleware.RateLimit(a.opts.Limiter, a.logger))
		}
		r.Use(middleware.ETag("/events"))
		r.Get("/events", a.events)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Deadline(a.opts.RequestTimeout))

			r.Route("/collections", func(r chi.Router) {
				r.Get("/", a.listCollections)
				r.Post("/", a.createCollection)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", a.getCollection)
					r.Put("/", a.updateCollection)
					r.Delete("/", a.deleteCollection)
					r.Get("/models", a.listModels)
					r.Post("/models", a.createModel)
				})
			})

			r.Route("/models/{id}", func(r chi.Router) {
				r.Get("/", a.getModel)
				r.Put("/", a.updateModel)
				r.Delete("/", a.deleteModel)
				r.Post("/move", a.moveModel)
				r.Get("/children", a.children)
				r.Get("/descendants", a.descendants)
				r.Get("/ancestors", a.ancestors)
				r.Get("/relations", a.modelRelations)
				r.Get("/linked", a.resolveLinked)
				r.Get("/linked/{rule}", a.resolveLinkedRule)
				r.Post("/linked/{rule}/upload", a.uploadLinked)
				r.Post("/linked/{rule}/unlink", a.unlinkLinked)
				r.Get("/referenced-by", a.referencedBy)
			})

			r.Route("/relation-types", func(r chi.Router) {
				r.Get("/", a.listRelationTypes)
				r.Post("/", a.createRelationType)
				r.Get("/{id}", a.getRelationType)
				r.Delete("/{id}", a.deleteRelationType)
			})

			r.Post("/relations", a.link)
			r.Delete("/relations/{id}", a.unlink)

			r.Route("/config", func(r chi.Router) {
				r.Get("/", a.listConfig)
				r.Get("/{name}", a.getConfig)
				r.Put("/{name}", a.putConfig)
				r.Delete("/{name}", a.deleteConfig)
			})
		})
	})
	return r
}

func (a *API) fail(w http.ResponseWriter, err error) {
	response.Error(w, a.logger, err)
}

// project returns the project of the authenticated request.
func project(r *http.Request) entity.UUID {
	c, _ := auth.ClaimsFrom(r.Context())
	if c == nil {
		return ""
	}
	return c.ProjectID
}

func pathID(r *http.Request, name string) (entity.UUID, error) {
	id, err := entity.ParseUUID(chi.URLParam(r, name))
	if err != nil {
		return "", errs.Invalid("%s: %v", name, err)
	}
	return id, nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Invalid("request body is empty")
		}
		return errs.Invalid("request body: %v", err)
	}
	return nil
}

// collection loads a collection of the request's project.
func (a *API) collection(ctx context.Context, projectID, id entity.UUID) (*entity.Collection, error) {
	c, err := a.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ProjectID != projectID {
		return nil, errs.NotFound("collection", id)
	}
	return c, nil
}

// model loads a model of the request's project with its collection.
func (a *API) model(ctx context.Context, projectID, id entity.UUID) (*entity.Model, *entity.Collection, error) {
	m, err := a.store.GetModel(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	c, err := a.store.GetCollection(ctx, m.CollectionID)
	if err != nil {
		return nil, nil, err
	}
	if c.ProjectID != projectID {
		return nil, nil, errs.NotFound("model", id)
	}
	return m, c, nil
}

func (a *API) modelFromPath(r *http.Request) (*entity.Model, *entity.Collection, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, nil, err
	}
	return a.model(r.Context(), project(r), id)
}

func publicModels(models []*entity.Model) []*entity.Model {
	out := make([]*entity.Model, len(models))
	for i, m := range models {
		out[i] = m.Public()
	}
	return out
}

func publicPage(p *query.Page[*entity.Model]) *query.Page[*entity.Model] {
	out := *p
	out.Items = publicModels(p.Items)
	return &out
}
