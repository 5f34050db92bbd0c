package cli

import (
	"fmt"

	"hra-insights/groupsize"
	"hra-insights/logger"
	"hra-insights/metrics"
	"hra-insights/pipeline"
	"hra-insights/store"
)

// newPipeline builds a pipeline from the loaded config. The debug sink and
// group-size enrichment are enabled only when configured. m may be nil.
func newPipeline(m *metrics.Metrics) (*pipeline.Pipeline, error) {
	opts := pipeline.Options{
		Repair:  cfg.RepairOptions(),
		Logger:  log,
		Metrics: m,
	}
	if cfg.DebugDir != "" {
		opts.Sink = pipeline.NewFileSink(cfg.DebugDir)
	}
	if cfg.GroupSizeEnabled() {
		calc, err := groupsize.Load(cfg.CSVPath, cfg.MappingsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load group size data: %w", err)
		}
		log.Info(logger.ComponentGroupSize, logger.CategoryRequest, "", "Group size enrichment enabled", map[string]interface{}{
			"csv":      cfg.CSVPath,
			"mappings": cfg.MappingsPath,
		})
		opts.Enricher = calc
	}
	return pipeline.New(opts), nil
}

// openStore opens the archive at the flag path, falling back to db_path.
// It returns nil when neither is set.
func openStore(flagPath string) (*store.Store, error) {
	path := flagPath
	if path == "" {
		path = cfg.DBPath
	}
	if path == "" {
		return nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	log.Debug(logger.ComponentStore, logger.CategoryDebug, "", "Archive opened", map[string]interface{}{
		"path": path,
	})
	return st, nil
}
