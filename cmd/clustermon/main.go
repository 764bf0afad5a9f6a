package main

import (
	"go.ntppool.org/clustermon/client/cmd"
	basecmd "go.ntppool.org/clustermon/cmd"
)

func main() {
	basecmd.Run(&cmd.ClientCmd{}, "clustermon", "Replica set and sharded cluster discovery, monitoring and server selection")
}
