package boltraft

import (
	"encoding/json"

	"github.com/cuemby/zoom/pkg/backend"
)

// command is the unit replicated through the raft log. Every mutating
// Backend method builds one command and submits it via raft.Raft.Apply;
// read methods never touch the log.
type command struct {
	Ops       []backend.Op
	SessionID string
}

func encodeCommand(c command) ([]byte, error) {
	return json.Marshal(c)
}

func decodeCommand(data []byte) (command, error) {
	var c command
	err := json.Unmarshal(data, &c)
	return c, err
}

// fsmResponse is what fsm.Apply returns, retrieved from raft's
// ApplyFuture.Response() after a successful Apply.
type fsmResponse struct {
	Results []backend.OpResult
	Err     error
}
