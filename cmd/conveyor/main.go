package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conveyorproject/conveyor/internal/common"
	"github.com/conveyorproject/conveyor/internal/conveyor"
	"github.com/conveyorproject/conveyor/internal/conveyor/configuration"
	"github.com/conveyorproject/conveyor/internal/conveyor/connectors"
	"github.com/conveyorproject/conveyor/internal/conveyor/connectors/demo"
)

const CustomConfigLocation = "config"

func init() {
	pflag.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.ConveyorConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/conveyor", userSpecifiedConfigs)

	registry, err := connectors.NewRegistry(demo.New())
	if err != nil {
		log.Fatalf("Could not build connector registry: %v", err)
	}

	if err := conveyor.Run(&config, registry); err != nil {
		log.Fatalf("Conveyor terminated: %v", err)
	}
}
