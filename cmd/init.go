package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/contactbook/internal/directory"
	"github.com/sells-group/contactbook/internal/reconcile"
	"github.com/sells-group/contactbook/internal/resilience"
	"github.com/sells-group/contactbook/internal/search"
	"github.com/sells-group/contactbook/internal/store"
	"github.com/sells-group/contactbook/internal/tasks"
	"github.com/sells-group/contactbook/pkg/nimble"
	sfpkg "github.com/sells-group/contactbook/pkg/salesforce"
)

// initStore opens the configured store and applies the schema.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DSN())
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DSN(), &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// initNimble builds the Nimble client with retries, rate limiting and a
// circuit breaker from config.
func initNimble() (nimble.Client, error) {
	if cfg.Nimble.APIKey == "" {
		return nil, eris.New("nimble api key is required (CONTACTBOOK_NIMBLE_API_KEY)")
	}

	retry := resilience.FromClientConfig(cfg.Nimble.MaxRetries, cfg.Nimble.Backoff(), cfg.Nimble.Timeout())
	retry.OnRetry = resilience.RetryLogger("nimble", "request")

	breakerCfg := resilience.FromCircuitConfig(cfg.Nimble.CircuitThreshold, time.Duration(cfg.Nimble.CircuitResetSecs)*time.Second)
	breakerCfg.OnStateChange = resilience.StateLogger("nimble")

	opts := []nimble.Option{
		nimble.WithRetryConfig(retry),
		nimble.WithCircuitBreaker(resilience.NewCircuitBreaker(breakerCfg)),
	}
	if cfg.Nimble.BaseURL != "" {
		opts = append(opts, nimble.WithBaseURL(cfg.Nimble.BaseURL))
	}
	if cfg.Nimble.RateLimit > 0 {
		opts = append(opts, nimble.WithRateLimit(cfg.Nimble.RateLimit))
	}
	return nimble.NewClient(cfg.Nimble.APIKey, opts...), nil
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (CONTACTBOOK_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	var opts []sfpkg.ClientOption
	if cfg.Salesforce.RateLimit > 0 {
		opts = append(opts, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit))
	}
	return sfpkg.NewClient(sf, opts...), nil
}

// initDirectory returns the remote directory selected by
// directory.provider.
func initDirectory() (directory.Directory, error) {
	switch cfg.Directory.Provider {
	case "nimble":
		c, err := initNimble()
		if err != nil {
			return nil, err
		}
		return directory.NewNimble(c), nil
	case "salesforce":
		c, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return directory.NewSalesforce(c), nil
	default:
		return nil, eris.Errorf("unsupported directory provider: %s", cfg.Directory.Provider)
	}
}

func initEngine(st store.Store, dir directory.Directory) *reconcile.Engine {
	return reconcile.New(st, dir, reconcile.Config{
		Concurrency:      cfg.Reconcile.Concurrency,
		StrictEmailMatch: cfg.Reconcile.StrictEmailMatch,
	}, reconcile.WithRecorder(st))
}

func initSearch(st store.Store) *search.Executor {
	return search.NewExecutor(st, cfg.Search.Limit)
}

func initTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tasks.NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrap(err, "dial temporal")
	}
	return c, nil
}
