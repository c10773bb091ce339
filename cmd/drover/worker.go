package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/droverhq/drover"
)

// workerCmd is the worker-process entrypoint. The orchestrator spawns this
// subcommand per agent; it reads envelopes from stdin one JSON line at a
// time and writes result envelopes to stdout. Diagnostics go to stderr so
// they never corrupt the protocol stream.
func workerCmd(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	agentID := fs.String("agent-id", "", "Agent ID assigned by the orchestrator")
	name := fs.String("name", "", "Agent name")

	fs.Usage = func() {
		fmt.Println(`Usage: drover worker --agent-id <id> --name <name>

Run as a worker process. This subcommand is started by the orchestrator
and speaks the JSON-line task protocol on stdin/stdout; it is not meant
to be run by hand.`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *agentID == "" {
		fmt.Fprintln(os.Stderr, "Error: --agent-id is required")
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "worker %s (%s) ready\n", *agentID, *name)

	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env drover.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			fmt.Fprintf(os.Stderr, "worker %s: bad envelope: %v\n", *agentID, err)
			continue
		}

		switch env.Type {
		case drover.MessageDispatchTask:
			reply := executeTask(*agentID, env)
			if err := out.Encode(reply); err != nil {
				fmt.Fprintf(os.Stderr, "worker %s: write reply: %v\n", *agentID, err)
				os.Exit(1)
			}
		case drover.MessageShutdown:
			fmt.Fprintf(os.Stderr, "worker %s: shutdown\n", *agentID)
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "worker %s: unexpected envelope type %q\n", *agentID, env.Type)
		}
	}

	// Stdin closed: the orchestrator is gone.
	os.Exit(0)
}

// executeTask runs a dispatched task and builds the result envelope.
//
// The built-in executor only acknowledges the task; real deployments
// replace this binary with one that does actual work and speaks the same
// protocol.
func executeTask(agentID string, env drover.Envelope) drover.Envelope {
	reply := drover.Envelope{
		AgentID:   agentID,
		TaskID:    env.TaskID,
		Timestamp: time.Now(),
	}

	if env.Description == "" {
		reply.Type = drover.MessageTaskFailed
		reply.Error = "task has no description"
		return reply
	}

	reply.Type = drover.MessageTaskCompleted
	reply.Result = fmt.Sprintf("acknowledged: %s", env.Description)
	return reply
}
