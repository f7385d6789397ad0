/*
Package boltraft is the durable, clustered backend.Backend: mutations are
replicated through a hashicorp/raft log so that a Multi batch is applied
atomically to an embedded bbolt database by the finite state machine, and
reads are served directly from that same database once a command has been
applied.

A single-node deployment bootstraps its own one-server cluster; additional
voters join the same raft group the way any hashicorp/raft application
adds peers, through raft.Raft.AddVoter on the current leader.
*/
package boltraft
