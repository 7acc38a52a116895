package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/examreg/internal/client/admin"
	"github.com/dmitrijs2005/examreg/internal/client/config"
	"github.com/dmitrijs2005/examreg/internal/client/docstore"
	"github.com/dmitrijs2005/examreg/internal/client/docstore/firestore"
	"github.com/dmitrijs2005/examreg/internal/client/docstore/postgres"
	"github.com/dmitrijs2005/examreg/internal/client/identity"
	"github.com/dmitrijs2005/examreg/internal/client/identity/firebase"
	"github.com/dmitrijs2005/examreg/internal/client/identity/local"
	"github.com/dmitrijs2005/examreg/internal/client/kv"
	"github.com/dmitrijs2005/examreg/internal/client/premium"
	"github.com/dmitrijs2005/examreg/internal/client/profiles"
	"github.com/dmitrijs2005/examreg/internal/client/session"
	"github.com/dmitrijs2005/examreg/internal/client/tokens"
	"github.com/dmitrijs2005/examreg/internal/logging"
	"github.com/dmitrijs2005/examreg/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/option"
)

const defaultSignInWait = 15 * time.Second

// components are the external boundaries an App runs against.
type components struct {
	provider identity.Provider
	durable  kv.Store
	docs     docstore.Store
	closers  []func() error
}

type App struct {
	config   *config.Config
	log      logging.Logger
	provider identity.Provider
	tokens   *tokens.Store
	cache    *profiles.Cache
	profiles *profiles.Engine
	session  *session.Controller
	console  *admin.Console
	premium  *premium.Service
	registry *prometheus.Registry
	closers  []func() error

	reader     *bufio.Reader
	out        io.Writer
	signInWait time.Duration
	now        func() time.Time
}

// NewApp opens the local database, the identity provider and the document
// store selected by c and wires the client layers on top of them.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {
	comp, err := openComponents(ctx, c)
	if err != nil {
		return nil, err
	}
	return newApp(c, l, comp, bufio.NewReader(os.Stdin), os.Stdout), nil
}

func openComponents(ctx context.Context, c *config.Config) (*components, error) {
	comp := &components{}
	fail := func(err error) (*components, error) {
		_ = comp.close()
		return nil, err
	}

	durable, db, err := kv.Open(ctx, c.LocalDSN)
	if err != nil {
		return fail(fmt.Errorf("error initializing local database: %w", err))
	}
	comp.durable = durable
	comp.closers = append(comp.closers, db.Close)

	switch c.Provider {
	case config.ProviderLocal:
		comp.provider = local.New([]byte(c.LocalSecret), 0)
	case config.ProviderFirebase:
		if c.FirebaseAPIKey == "" {
			return fail(errors.New("firebase provider requires an API key"))
		}
		comp.provider = firebase.New(c.FirebaseAPIKey, firebase.WithRateLimit(c.ProviderRateLimit, 1))
	default:
		return fail(fmt.Errorf("unknown identity provider %q", c.Provider))
	}

	switch c.Store {
	case config.StoreMemory:
		comp.docs = docstore.NewMemory()
	case config.StoreFirestore:
		var opts []option.ClientOption
		if c.FirestoreCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(c.FirestoreCredentials))
		}
		fs, err := firestore.Open(ctx, c.FirestoreProject, opts...)
		if err != nil {
			return fail(err)
		}
		comp.docs = fs
		comp.closers = append(comp.closers, fs.Close)
	case config.StorePostgres:
		pg, pdb, err := postgres.Open(ctx, c.PostgresDSN)
		if err != nil {
			return fail(err)
		}
		comp.docs = pg
		comp.closers = append(comp.closers, pdb.Close)
	default:
		return fail(fmt.Errorf("unknown document store %q", c.Store))
	}

	return comp, nil
}

func (c *components) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

func newApp(c *config.Config, l logging.Logger, comp *components, reader *bufio.Reader, out io.Writer) *App {
	a := &App{
		config:     c,
		log:        l,
		provider:   comp.provider,
		closers:    comp.closers,
		registry:   prometheus.NewRegistry(),
		reader:     reader,
		out:        out,
		signInWait: defaultSignInWait,
		now:        time.Now,
	}
	m := obs.NewMetrics(a.registry)

	a.tokens = tokens.New(comp.provider, comp.durable, kv.NewMemory(), l,
		tokens.WithThreshold(c.ExpiryThreshold),
		tokens.WithInterval(c.RefreshInterval),
		tokens.WithMetrics(m),
		tokens.WithRefreshFailureHook(a.onRefreshFailure),
	)
	a.cache = profiles.NewCache(comp.durable, nil)
	a.profiles = profiles.NewEngine(comp.docs, a.cache, a.tokens, l,
		profiles.WithRetryPolicy(c.MaxRetries, c.RetryDelay),
		profiles.WithFetchWait(c.FetchWait),
		profiles.WithEngineMetrics(m),
	)
	a.session = session.NewController(session.Deps{
		Tokens:   a.tokens,
		Profiles: a.profiles,
		Provider: comp.provider,
		Nav:      &printNavigator{w: out},
		Notify:   &printNotifier{w: out},
	}, l, c.RedirectSource)
	a.console = admin.NewConsole(comp.docs, l)
	a.premium = premium.NewService(comp.docs, a.profiles, l)

	return a
}

func (a *App) onRefreshFailure(ctx context.Context, err error) {
	if herr := a.session.HandleProviderError(ctx, err); herr != nil {
		a.log.Warn(ctx, "refresh failure not recovered", "error", herr)
	}
}

// start subscribes the session to the provider's presence stream. The
// returned function stops it and waits for the loop to exit.
func (a *App) start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	presence, unsubscribe := a.provider.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.session.Run(ctx, presence)
	}()
	return func() {
		unsubscribe()
		cancel()
		<-done
	}
}

// Run blocks in the REPL until the user exits or input ends.
func (a *App) Run(ctx context.Context) {
	stop := a.start(ctx)
	defer a.Close(ctx)
	defer stop()

	if a.config.MetricsAddr != "" {
		shutdown := a.serveMetrics(ctx, a.config.MetricsAddr)
		defer shutdown()
	}

	if tok, err := a.tokens.Restore(ctx); err == nil && tok != nil {
		a.log.Debug(ctx, "found token of a previous session", "expires", tok.ExpiresAt)
	}

	runREPL(ctx, a, a.status, a.reader)
}

// Close releases the stores opened by NewApp.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn(ctx, "close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) isLoggedIn() bool {
	return a.session.IsSignedIn()
}

func (a *App) isAdmin() bool {
	return a.session.Profile().IsAdmin()
}

func (a *App) status() string {
	u := a.session.CurrentUser()
	if u == nil {
		return a.session.State().String()
	}
	return fmt.Sprintf("%s %s", u.Email, a.session.State())
}
