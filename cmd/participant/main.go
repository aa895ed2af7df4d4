// Command participant runs one participant node: it dials the coordinator,
// serves PREPARE/COMMIT/ABORT for the source images in its data directory,
// and prompts at the terminal for commit approval.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mnohosten/collage-2pc/pkg/participant"
	"github.com/mnohosten/collage-2pc/pkg/transport"
	"github.com/mnohosten/collage-2pc/pkg/txn"
)

func main() {
	dataDir := flag.String("data-dir", "", "Directory holding this participant's source images and durable log (default ./data/<id>)")
	coordinatorURL := flag.String("coordinator", "ws://localhost:8080", "Coordinator base URL")
	auto := flag.Bool("auto-approve", false, "Approve every PREPARE without prompting (for scripted runs)")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: participant [-data-dir dir] [-coordinator url] [-auto-approve] <port> <id>\n")
		os.Exit(1)
	}
	_, id := flag.Arg(0), flag.Arg(1)

	dir := *dataDir
	if dir == "" {
		dir = "./data/" + id
	}

	logger := log.New(os.Stdout, fmt.Sprintf("participant[%s]: ", id), log.LstdFlags)

	selfAddr := txn.Address(id)
	coordinatorAddr := txn.Address("coordinator")
	bus, err := transport.DialParticipantBus(*coordinatorURL, selfAddr, coordinatorAddr, logger)
	if err != nil {
		logger.Fatalf("failed to connect to coordinator: %v", err)
	}

	var oracle participant.ApprovalOracle
	if *auto {
		oracle = participant.AutoOracle{}
	} else {
		oracle = participant.NewStdioOracle()
	}

	p, err := participant.New(selfAddr, dir, bus, oracle, logger)
	if err != nil {
		logger.Fatalf("failed to open participant: %v", err)
	}

	logger.Printf("connected to %s as %s, serving images from %s", *coordinatorURL, id, dir)
	p.Run()
}
