// Package cmd has the clustermon command line interface.
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"go.ntppool.org/common/config/depenv"
	"go.ntppool.org/common/version"
)

type ClientCmd struct {
	DeployEnv string `name:"env" default:"devel" env:"DEPLOYMENT_MODE" help:"Deployment environment (prod, test or devel), used for MQTT topics and tracing"`

	Watch   WatchCmd   `cmd:"" help:"Monitor a deployment and publish its state"`
	Select  SelectCmd  `cmd:"" help:"Select one server for a read preference"`
	Version versionCmd `cmd:"" help:"Print version and build information"`
}

func (cmd *ClientCmd) BeforeApply() error {
	if len(os.Getenv("INVOCATION_ID")) > 0 {
		// don't add timestamps when running under systemd
		log.Default().SetFlags(0)
	}
	return nil
}

// AfterApply makes the deployment environment available to the
// subcommands' Run methods.
func (cmd *ClientCmd) AfterApply(kctx *kong.Context) error {
	env, err := cmd.environment()
	if err != nil {
		return err
	}
	kctx.Bind(env)
	return nil
}

func (cmd *ClientCmd) environment() (depenv.DeploymentEnvironment, error) {
	env := depenv.DeploymentEnvironmentFromString(cmd.DeployEnv)
	if env == depenv.DeployUndefined {
		return env, fmt.Errorf("invalid deployment environment %q", cmd.DeployEnv)
	}
	return env, nil
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Printf("clustermon %s\n", version.Version())
	return nil
}
