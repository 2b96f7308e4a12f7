package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/itip-engine/internal/auth"
	"github.com/sonroyaalmerol/itip-engine/internal/config"
	"github.com/sonroyaalmerol/itip-engine/internal/directory"
	"github.com/sonroyaalmerol/itip-engine/internal/dispatch"
	"github.com/sonroyaalmerol/itip-engine/internal/itip"
	"github.com/sonroyaalmerol/itip-engine/internal/schedstore"
)

type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

// NewServer assembles the reference dispatcher: schedstore backend,
// LDAP identity resolver, bearer auth chain, itip engine and HTTP
// router — the same assemble-then-serve shape as the teacher's
// httpserver.NewServer, with the CalDAV storage/ACL stack replaced by
// this module's scheduling-only dependencies.
func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	var store schedstore.Store
	var err error

	switch cfg.Storage.Type {
	case "postgres":
		store, err = schedstore.NewPostgres(cfg.Storage.PostgresURL, logger)
	case "sqlite":
		store, err = schedstore.NewSQLite(cfg.Storage.SQLitePath, logger)
	default:
		err = errors.New("httpserver: unknown storage type: " + cfg.Storage.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	dir, err := directory.NewLDAPResolver(cfg.LDAP, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	authn := auth.NewChain(cfg, logger)
	engine := itip.NewEngine(cfg.ICS.BuildProdID(), logger)
	notifier := dispatch.NewNotifier(cfg.Dispatch.NotifierURL, cfg.Dispatch.Timeout, logger)
	handler := dispatch.NewHandler(cfg, engine, store, dir, notifier, logger)
	mux := dispatch.NewRouter(cfg, handler, authn, logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
	cleanup := func() {
		store.Close()
		dir.Close()
	}
	logger.Info().Msgf("listening on %s (storage=%s)", cfg.HTTP.Addr, cfg.Storage.Type)
	return srv, cleanup, nil
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
