package app

import (
	"context"

	"castbot/internal/campaign"
	"castbot/internal/config"
	"castbot/internal/storage"
	logx "castbot/pkg/logx"
)

// LoadCampaigns reads every campaign from the configured store without
// starting anything. Used by the offline CLI commands.
func LoadCampaigns(ctx context.Context, cfgPath string, log logx.Logger) ([]campaign.Campaign, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return campaign.NewRepository(store, log).Load(ctx)
}
