package postgres

import (
	"fmt"

	"github.com/xleos/studio/config"
)

// DSN returns cfg.DSN when set, otherwise a key/value connection string.
func DSN(cfg *config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name,
	)
}
