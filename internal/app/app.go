// Package app wires the document picker's services and routes API Gateway
// requests to their handlers.
package app

import (
	"context"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/adapter/dropbox"
	"github.com/jun/docpick/internal/adapter/googledrive"
	"github.com/jun/docpick/internal/adapter/memory"
	"github.com/jun/docpick/internal/adapter/onedrive"
	"github.com/jun/docpick/internal/auth"
	"github.com/jun/docpick/internal/browse"
	"github.com/jun/docpick/internal/cache"
	"github.com/jun/docpick/internal/config"
	"github.com/jun/docpick/internal/crypto"
	"github.com/jun/docpick/internal/docapi"
	"github.com/jun/docpick/internal/handler"
	"github.com/jun/docpick/internal/ingest"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/model"
	"github.com/jun/docpick/internal/scratch"
	"github.com/jun/docpick/internal/secret"
	"github.com/jun/docpick/internal/tokenstore"
)

const devJWTSecret = "default-dev-secret"

// App holds the dependencies for the Lambda function and the local server.
type App struct {
	cfg *config.Config

	providers *handler.ProviderHandler
	browse    *handler.BrowseHandler
	uploads   *handler.UploadHandler
	documents *handler.DocumentsHandler

	// Connectors is exposed for the command line connect flow.
	Connectors *auth.Registry
	manager    *browse.Manager

	apiGatewaySecret string
	routes           []route
}

// stores are the persistence backends, in memory for DEV_MODE.
type stores struct {
	tokens   tokenstore.TokenStore
	pending  auth.PendingStore
	resolver secret.Resolver
}

func devStores() stores {
	return stores{
		tokens:   tokenstore.New(nil, "", crypto.NewMockEncryptor()),
		pending:  auth.NewMemoryPendingStore(),
		resolver: secret.NewEnvResolver(),
	}
}

func awsStores(ctx context.Context, cfg *config.Config) (stores, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return stores{}, fmt.Errorf("load AWS config: %w", err)
	}
	db := dynamodb.NewFromConfig(awsCfg)
	enc := crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
	return stores{
		tokens:   tokenstore.New(db, cfg.ProviderTokensTable, enc),
		pending:  auth.NewDynamoPendingStore(db, cfg.PendingAuthTable),
		resolver: secret.NewCached(secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))),
	}, nil
}

// NewApp builds every service from cfg. DEV_MODE keeps all state in memory
// and serves demo folders instead of calling the providers.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.L()

	var st stores
	if cfg.DevMode {
		st = devStores()
		log.Info("using in-memory stores and demo sources (DEV_MODE=true)")
	} else {
		var err error
		if st, err = awsStores(ctx, cfg); err != nil {
			return nil, err
		}
	}

	jwtSecret, err := st.resolver.GetSecret(ctx, cfg.JWTSecretParam)
	if err != nil {
		if !cfg.DevMode {
			return nil, fmt.Errorf("resolve JWT secret: %w", err)
		}
		log.Warn("JWT secret not set, using the development default", zap.Error(err))
		jwtSecret = devJWTSecret
	}
	apiGatewaySecret, err := st.resolver.GetSecret(ctx, cfg.APIGatewaySecretParam)
	if err != nil && !cfg.DevMode {
		log.Warn("failed to resolve API gateway secret", zap.Error(err))
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	connectors := newConnectors(cfg, st, httpClient)

	area, err := scratch.New(cfg.ScratchDir, cfg.MaxFileBytes)
	if err != nil {
		return nil, err
	}
	sources := newSources(cfg, connectors, area)

	views := cache.New(cfg.CacheTTL)
	docs := docapi.New(cfg.DocumentAPI, httpClient)
	selections := ingest.NewSelections()
	coord := ingest.NewCoordinator(docs, sources, area, views, selections, cfg.MaxFileBytes)
	manager := browse.NewManager(sources, cfg.SessionIdle)

	a := &App{
		cfg:              cfg,
		providers:        handler.NewProviderHandler(connectors, jwtSecret, cfg.FrontendURL),
		browse:           handler.NewBrowseHandler(manager, selections, jwtSecret),
		uploads:          handler.NewUploadHandler(coord, jwtSecret),
		documents:        handler.NewDocumentsHandler(docs, views, jwtSecret),
		Connectors:       connectors,
		manager:          manager,
		apiGatewaySecret: apiGatewaySecret,
	}
	a.routes = a.routeTable()

	log.Info("app initialized",
		zap.Bool("dev_mode", cfg.DevMode),
		zap.Int("connectors", len(connectors.Configured())),
		zap.Int("sources", len(sources)),
	)
	return a, nil
}

// newConnectors registers an OAuth connector for every provider with a client ID.
func newConnectors(cfg *config.Config, st stores, client *http.Client) *auth.Registry {
	var providers []auth.ProviderConfig
	if cfg.GoogleClientID != "" {
		providers = append(providers, auth.GoogleConfig(cfg.GoogleClientID, cfg.RedirectURL,
			secret.Lazy(st.resolver, cfg.GoogleClientSecretParam)))
	}
	if cfg.DropboxClientID != "" {
		providers = append(providers, auth.DropboxConfig(cfg.DropboxClientID, cfg.RedirectURL))
	}
	if cfg.OneDriveClientID != "" {
		providers = append(providers, auth.OneDriveConfig(cfg.OneDriveClientID, cfg.OneDriveTenant, cfg.RedirectURL))
	}
	if cfg.ZoomClientID != "" {
		providers = append(providers, auth.ZoomConfig(cfg.ZoomClientID, cfg.RedirectURL,
			secret.Lazy(st.resolver, cfg.ZoomClientSecretParam)))
	}

	connectors := make([]*auth.Connector, 0, len(providers))
	for _, pc := range providers {
		connectors = append(connectors, auth.NewConnector(pc, st.tokens, st.pending, auth.WithHTTPClient(client)))
	}
	return auth.NewRegistry(connectors...)
}

// newSources maps each file provider to its source. Providers without a
// connector have no source, so browsing them reports ErrNotFound.
func newSources(cfg *config.Config, connectors *auth.Registry, area *scratch.Area) adapter.Registry {
	reg := adapter.Registry{}
	if cfg.DevMode {
		for _, p := range []model.Provider{model.GoogleDrive, model.Dropbox, model.OneDrive} {
			reg[p] = adapter.NewStaticProvider(p, memory.Demo(p, area, cfg.PageSize))
		}
		return reg
	}

	for p, build := range builders(area, cfg.PageSize) {
		c, err := connectors.Get(p)
		if err != nil {
			continue
		}
		reg[p] = adapter.NewConnectedProvider(p, c, build)
	}
	return reg
}

func builders(area *scratch.Area, pageSize int) map[model.Provider]adapter.Builder {
	return map[model.Provider]adapter.Builder{
		model.GoogleDrive: googledrive.Builder(area, pageSize),
		model.Dropbox:     dropbox.Builder(area, pageSize),
		model.OneDrive:    onedrive.Builder(area, pageSize),
	}
}

// NewCLIConnector builds the connector for p with a loopback redirect URL,
// plus its file source when p has one. Tokens land in the same store the
// API uses.
func NewCLIConnector(ctx context.Context, cfg *config.Config, p model.Provider, redirectURL string) (*auth.Connector, adapter.SourceProvider, error) {
	st := devStores()
	if !cfg.DevMode {
		var err error
		if st, err = awsStores(ctx, cfg); err != nil {
			return nil, nil, err
		}
	}
	local := *cfg
	local.RedirectURL = redirectURL
	c, err := newConnectors(&local, st, &http.Client{Timeout: cfg.HTTPTimeout}).Get(p)
	if err != nil {
		return nil, nil, err
	}

	area, err := scratch.New(cfg.ScratchDir, cfg.MaxFileBytes)
	if err != nil {
		return nil, nil, err
	}
	build, ok := builders(area, cfg.PageSize)[p]
	if !ok {
		return c, nil, nil
	}
	return c, adapter.NewConnectedProvider(p, c, build), nil
}

// Sweep drops idle browse sessions.
func (a *App) Sweep() int {
	return a.manager.Sweep()
}
