package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/datastore/pgstore"
	"github.com/plenumhq/plenum/internal/meta"
	"github.com/plenumhq/plenum/internal/presenter"
	"github.com/plenumhq/plenum/internal/routing"
)

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

type HandlerOptions struct {
	Source     datastore.Source
	Registry   *meta.Registry
	Authorizer authorizer

	// JWTSecret signs and verifies access tokens. Defaults to
	// AUTH_JWT_SECRET.
	JWTSecret []byte

	// InternalPassword authenticates service-to-service callers on the
	// internal route. Defaults to AUTH_INTERNAL_PASSWORD.
	InternalPassword string
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := os.Getenv("ALLOWLIST_PATH")
	if allowlistPath == "" {
		p, err := defaultAllowlistPath()
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}

	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}

	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	reg := opts.Registry
	if reg == nil {
		reg = meta.Default()
	}

	source := opts.Source
	if source == nil {
		s, err := sourceFromEnv()
		if err != nil {
			return nil, err
		}
		source = s
	}

	auth := opts.Authorizer
	if auth == nil {
		a, err := loadAuthorizer()
		if err != nil {
			return nil, err
		}
		auth = a
	}

	secret := opts.JWTSecret
	if len(secret) == 0 {
		secret = []byte(os.Getenv("AUTH_JWT_SECRET"))
	}
	if len(secret) == 0 {
		return nil, errors.New("server: AUTH_JWT_SECRET is not set")
	}

	internalPassword := opts.InternalPassword
	if internalPassword == "" {
		internalPassword = os.Getenv("AUTH_INTERNAL_PASSWORD")
	}

	actions := action.NewDispatcher(reg, source)
	presenters := presenter.NewDispatcher(source)

	router := routing.NewRouter()

	router.Handle(http.MethodPost, "/system/action/handle_request", handleAction(actions, false))
	router.Handle(http.MethodPost, "/system/action/handle_request_internal", handleAction(actions, true))
	router.Handle(http.MethodPost, "/system/presenter", handlePresenter(presenters))
	router.Handle(http.MethodGet, "/system/health", http.HandlerFunc(handleHealth))
	router.Handle(http.MethodGet, "/metrics", promhttp.Handler())

	var h http.Handler = router
	h = withAuthz(classifier, auth, h)
	h = withAuthn(secret, internalPassword, h)
	h = withRequestLog(h)
	return h, nil
}

func MustNewHandler() http.Handler {
	h, err := NewHandler()
	if err != nil {
		panic(errors.New("server: failed to build handler: " + err.Error()))
	}
	return h
}

// sourceFromEnv picks the datastore backing: Postgres when DATABASE_URL
// is set, the reader/writer HTTP services when DATASTORE_READER_URL is
// set, an in-process store otherwise.
func sourceFromEnv() (datastore.Source, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			return nil, err
		}
		return pgstore.NewStore(pool), nil
	}
	if readerURL := os.Getenv("DATASTORE_READER_URL"); readerURL != "" {
		writerURL := os.Getenv("DATASTORE_WRITER_URL")
		if writerURL == "" {
			writerURL = readerURL
		}
		return datastore.NewClient(readerURL, writerURL, nil), nil
	}
	return datastore.NewMemStore(), nil
}

func defaultAllowlistPath() (string, error) {
	path := "config/routing/allowlist.yaml"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: allowlist not found")
}
