package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/giants/redistrict/cmd/redistrict/cmd"
	"github.com/giants/redistrict/internal/common/app"
	"github.com/giants/redistrict/internal/common/logging"
)

func main() {
	logging.ConfigureCommandLineLogging()
	root := cmd.RootCmd()
	if err := root.ExecuteContext(app.CreateContextWithShutdown()); err != nil {
		log.Fatal(err)
	}
}
