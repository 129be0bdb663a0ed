package di

import (
	"github.com/aristath/esgfolio/internal/modules/runs"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates repositories on top of opened databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	container.RunRepo = runs.NewRepository(container.RunsDB.Conn(), log)
	return nil
}
