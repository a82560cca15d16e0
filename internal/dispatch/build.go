// Package dispatch assembles the Provider Registry (C4), the quota/health/
// routing-state stores (C5), the Virtual Router (C6), the Response
// Converter (C7) and the Request Executor (C8) into one running engine,
// the way the teacher's internal/server.BuildEngines assembles the
// single-upstream Gemini pipeline into a *gin.Engine.
package dispatch

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex/internal/config"
	"routecodex/internal/convert"
	"routecodex/internal/gwexec"
	"routecodex/internal/health"
	"routecodex/internal/oauthmgr"
	"routecodex/internal/providerrt"
	"routecodex/internal/quota"
	"routecodex/internal/routingstate"
	"routecodex/internal/secretref"
	"routecodex/internal/stats"
	"routecodex/internal/translator"
	"routecodex/internal/virtualrouter"
)

// Engine bundles the live dispatch-engine collaborators so callers (the
// ingress handlers, the management/debug endpoints, the periodic
// persistence goroutines) can reach into any layer of C4-C8.
type Engine struct {
	Registry    *providerrt.Registry
	Quota       *quota.Store
	Health      *health.Store
	Routing     *routingstate.Store
	Router      *virtualrouter.DefaultRouter
	Converter   *convert.Converter
	Executor    *gwexec.Executor
	OAuthMgr    *oauthmgr.Manager

	gatewayCfg config.GatewayConfig
}

// Build wires C4-C8 from the gateway configuration. usage may be nil; when
// set, per-request token usage is folded into that stats.UsageStats
// aggregate.
func Build(gw config.GatewayConfig, usage *stats.UsageStats) (*Engine, error) {
	secrets := secretref.New(secretref.NewAuthFileMapping(""), nil)
	oauthMgr := oauthmgr.New(oauthmgr.NewHTTPRefresher(), oauthmgr.FileStore{}, nil)

	registry := providerrt.NewRegistry(providerrt.Deps{Secrets: secrets, OAuth: oauthMgr})

	quotaStore := quota.New()
	healthStore := health.New()
	routingStore := routingstate.New()

	bindings := make([]providerrt.ProfileBinding, 0, len(gw.Providers))
	pools := map[string][]virtualrouter.Candidate{}

	for _, p := range gw.Providers {
		profile := providerrt.ProviderProfile{
			ID:       p.ID,
			Protocol: providerrt.Protocol(p.Protocol),
			Transport: providerrt.Transport{
				BaseURL:    p.BaseURL,
				Endpoint:   p.Endpoint,
				Headers:    p.Headers,
				TimeoutMs:  p.TimeoutMs,
				MaxRetries: p.MaxRetries,
				MaxPool:    p.MaxPool,
			},
			CompatibilityProfile: p.CompatibilityProfile,
			ProviderFamily:       p.ProviderFamily,
			DefaultModel:         p.DefaultModel,
			AntiTruncation:       p.AntiTruncation,
		}
		switch strings.ToLower(p.AuthKind) {
		case "oauth":
			profile.Auth = providerrt.Auth{Kind: providerrt.AuthOAuth, OAuth: &providerrt.OAuthAuth{
				ClientID:     p.OAuthClientID,
				ClientSecret: p.OAuthClientSec,
				TokenURL:     p.OAuthTokenURL,
				RefreshURL:   p.OAuthRefreshURL,
				Scopes:       p.OAuthScopes,
				TokenFile:    p.OAuthTokenFile,
			}}
		default:
			profile.Auth = providerrt.Auth{Kind: providerrt.AuthAPIKey, APIKey: &providerrt.APIKeyAuth{
				Value:     p.APIKeyValue,
				SecretRef: p.APIKeySecret,
				RawType:   p.APIKeyRawType,
			}}
		}

		providerKey := p.ProviderKey
		if providerKey == "" {
			providerKey = p.ID
		}
		bindings = append(bindings, providerrt.ProfileBinding{
			ProviderKey: providerKey,
			RuntimeKey:  p.RuntimeKey,
			Profile:     profile,
		})

		quotaStore.Register(providerKey, quota.Static{
			AuthType:     p.AuthKind,
			PriorityTier: strconv.Itoa(p.PriorityTier),
		})

		routeName := p.RouteName
		if routeName == "" {
			routeName = "default"
		}
		pools[routeName] = append(pools[routeName], virtualrouter.Candidate{
			ProviderKey:           providerKey,
			RuntimeKey:            p.RuntimeKey,
			ProviderType:          providerrt.Protocol(p.Protocol),
			OutboundProfile:       p.ProviderFamily,
			CompatibilityProfile:  p.CompatibilityProfile,
			DefaultModel:          p.DefaultModel,
			RouteName:             routeName,
		})
	}

	registry.Initialize(bindings)

	router := virtualrouter.NewDefaultRouter(quotaStore, healthStore, routingStore)
	for routeName, candidates := range pools {
		router.SetPool(routeName, candidates)
	}

	converter := convert.New(translator.Default())

	executor := &gwexec.Executor{
		Router:    router,
		Registry:  registry,
		Converter: converter,
		Quota:     quotaStore,
		Stats:     gwexec.NewInMemoryStats(usage),
		NotifyOutcome: func(providerKey string, statusCode int, latencyMs int64, success bool) {
			outcome := health.OutcomeSuccess
			if !success {
				outcome = health.OutcomeError
			}
			healthStore.RecordOutcome(providerKey, outcome, latencyMs)
		},
	}

	eng := &Engine{
		Registry:   registry,
		Quota:      quotaStore,
		Health:     healthStore,
		Routing:    routingStore,
		Router:     router,
		Converter:  converter,
		Executor:   executor,
		OAuthMgr:   oauthMgr,
		gatewayCfg: gw,
	}

	eng.restorePersistedState()
	return eng, nil
}

func (e *Engine) restorePersistedState() {
	if e.gatewayCfg.QuotaStateFile != "" {
		if err := e.Quota.LoadFromFile(e.gatewayCfg.QuotaStateFile); err != nil {
			log.WithError(err).Warn("dispatch: failed to restore quota state")
		}
	}
}

// PersistPeriodically saves quota state to disk every interval until stop
// is closed. It returns at once when no quota state file is configured or
// interval is not positive.
func (e *Engine) PersistPeriodically(interval time.Duration, stop <-chan struct{}) {
	if e.gatewayCfg.QuotaStateFile == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.Quota.SaveToFile(e.gatewayCfg.QuotaStateFile); err != nil {
				log.WithError(err).Warn("dispatch: failed to persist quota state")
			}
		case <-stop:
			return
		}
	}
}
