// Package selector picks the server an operation should be sent to.
//
// Selection works on immutable topology snapshots, so it never blocks the
// monitors that update the topology.
//
// # Algorithm
//
// One attempt against a snapshot:
//   - Unknown topologies have no candidates
//   - Single topologies offer their one server, Sharded ones every mongos
//   - Replica sets pick primaries and secondaries according to the read
//     preference mode, then filter by tag sets and maximum staleness
//   - Candidates rejected by the connectable check are dropped
//   - Of the rest, those within the local threshold of the fastest
//     round trip time form the latency window
//   - One server from the window is chosen at random
//
// # Retries
//
// Select repeats attempts against fresh snapshots until the server
// selection timeout, waking early whenever the topology changes. Invalid
// read preferences fail immediately since no topology change can make
// them satisfiable.
//
// # Usage
//
//	sel := selector.New(selector.WithLocalThreshold(15 * time.Millisecond))
//	srv, err := sel.Select(ctx, topo, readpref.New(readpref.Nearest))
//	if err != nil {
//	    return err
//	}
package selector
