package graphql

import (
	"context"
	"net/http"
	"time"

	graphqlgo "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/minaprotocol/mina-indexer/internal/params"
	"github.com/minaprotocol/mina-indexer/internal/query"
)

var log = logrus.WithField("prefix", "graphql")

// Service serves the GraphQL POST endpoint. It registers with the node
// supervisor alongside the ingest and IPC services.
type Service struct {
	addr       string
	server     *http.Server
	failStatus error
}

// NewService parses the schema against the resolver and prepares the HTTP
// server; the schema is validated here so a resolver/schema mismatch fails
// at startup, not on the first query.
func NewService(addr string, q *query.Resolver) (*Service, error) {
	schema, err := graphqlgo.ParseSchema(schemaString, NewResolver(q))
	if err != nil {
		return nil, errors.Wrap(err, "parse graphql schema")
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", deadline(&relay.Handler{Schema: schema}))
	return &Service{
		addr:   addr,
		server: &http.Server{Addr: addr, Handler: mux},
	}, nil
}

// deadline bounds each query task with the configured deadline; exceeding
// it surfaces as a DeadlineExceeded error from the resolver without
// partial results.
func deadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), params.Current().QueryDeadline)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start begins serving in a goroutine.
func (s *Service) Start() {
	log.WithField("addr", s.addr).Info("Starting GraphQL server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.failStatus = err
			log.WithError(err).Error("GraphQL server failed")
		}
	}()
}

// Stop shuts the HTTP server down gracefully.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status returns the terminal serve error, if any.
func (s *Service) Status() error {
	return s.failStatus
}
