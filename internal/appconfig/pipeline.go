package appconfig

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/rewards-go/pkg/ingest"
	"github.com/lisanmuaddib/rewards-go/pkg/interfaces/twitter"
	"github.com/lisanmuaddib/rewards-go/pkg/recovery"
	"github.com/lisanmuaddib/rewards-go/pkg/registry"
	"github.com/lisanmuaddib/rewards-go/pkg/reward"
	"github.com/lisanmuaddib/rewards-go/pkg/store"
)

// PipelineConfig carries the shared dependencies every component needs.
type PipelineConfig struct {
	TwitterClient *twitter.TwitterClient
	Ledger        reward.Ledger
	DB            *gorm.DB
	Logger        *logrus.Logger
}

// Pipeline bundles the wired components for one campaign.
type Pipeline struct {
	Scheduler  *ingest.Scheduler
	Rewards    *reward.Engine
	Recovery   *recovery.Engine
	Identities *store.IdentityStore
}

// pipelines keys wired pipelines by campaign handle; configuring the same
// campaign twice returns the same instances.
var pipelines = registry.New[*Pipeline]()

// ConfigurePipeline wires the ingestion scheduler, reward engine and
// recovery engine for the configured campaign.
func ConfigurePipeline(config PipelineConfig) (*Pipeline, error) {
	ingestConfig, err := ingest.NewSchedulerConfig(config.Logger)
	if err != nil {
		return nil, err
	}

	return pipelines.GetOrCreate(ingestConfig.CampaignHandle, func() (*Pipeline, error) {
		return buildPipeline(config, ingestConfig)
	})
}

func buildPipeline(config PipelineConfig, ingestConfig *ingest.SchedulerConfig) (*Pipeline, error) {
	posts := store.NewPostStore(config.Logger, config.DB)
	rewards := store.NewRewardStore(config.Logger, config.DB)
	history := store.NewFetchHistoryStore(config.Logger, config.DB)
	state := store.NewStateStore(config.Logger, config.DB)
	identities := store.NewIdentityStore(config.Logger, config.DB)

	scheduler, err := ingest.NewScheduler(ingestConfig, config.TwitterClient, posts, history, state)
	if err != nil {
		return nil, err
	}

	rewardConfig, err := reward.NewEngineConfig(config.Logger)
	if err != nil {
		return nil, err
	}

	engine, err := reward.NewEngine(rewardConfig, config.TwitterClient, posts, rewards, config.Ledger, identities)
	if err != nil {
		return nil, err
	}

	recoveryConfig, err := recovery.NewEngineConfig(config.Logger)
	if err != nil {
		return nil, err
	}

	recoverer, err := recovery.NewEngine(recoveryConfig, scheduler, engine, history, posts)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Scheduler:  scheduler,
		Rewards:    engine,
		Recovery:   recoverer,
		Identities: identities,
	}, nil
}

// Start brings the pipeline up: gaps left by downtime are recovered first,
// then the timers arm.
func (p *Pipeline) Start(ctx context.Context, log *logrus.Logger) error {
	if attempts, err := p.Recovery.AutoRecoverAll(ctx); err != nil {
		log.WithError(err).Warn("Startup gap recovery incomplete")
	} else if len(attempts) > 0 {
		log.WithField("attempts", len(attempts)).Info("Startup gap recovery finished")
	}

	if err := p.Scheduler.Start(ctx); err != nil {
		return err
	}
	return p.Rewards.Start(ctx)
}

// Stop winds the pipeline down.
func (p *Pipeline) Stop(log *logrus.Logger) {
	if err := p.Scheduler.Stop(); err != nil {
		log.WithError(err).Warn("Ingestion scheduler stop failed")
	}
	p.Rewards.Stop()
}
