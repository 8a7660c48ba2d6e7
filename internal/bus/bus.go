package bus

import (
	"fmt"

	"klinecast/internal/domain/repository"
	"klinecast/pkg/config"
	"klinecast/pkg/logger"
)

// New selects a bus backend from configuration. The inproc bus is the
// default and needs no external broker; redis and kafka let several
// instances share one event stream.
func New(cfg *config.Config, lgr *logger.Logger) (repository.Bus, error) {
	switch cfg.Bus.Backend {
	case "inproc":
		return NewInproc(cfg.Bus.Buffer, lgr), nil
	case "redis":
		return NewRedis(cfg, lgr)
	case "kafka":
		return NewKafka(cfg, lgr), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
	}
}
