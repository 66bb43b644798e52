package injector

import (
	"github.com/lk2023060901/medora-backend/internal/conf"
	"github.com/lk2023060901/medora-backend/internal/document/queue"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/server"
)

// App 应用依赖集合
type App struct {
	Config     *conf.Config
	Logger     *logger.Logger
	HTTPServer *server.HTTPServer
	Janitor    *queue.Janitor
}

func newApp(
	config *conf.Config,
	log *logger.Logger,
	httpServer *server.HTTPServer,
	janitor *queue.Janitor,
) *App {
	return &App{
		Config:     config,
		Logger:     log,
		HTTPServer: httpServer,
		Janitor:    janitor,
	}
}
