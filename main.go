package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KelvinWu602/forus-snode/p2p"
)

func main() {
	node := p2p.MakeServerAndStart()

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, os.Interrupt, syscall.SIGTERM)
	// wait for the SIGINT signal (Ctrl+C)
	log.Println("Press Ctrl+C to stop the service node")
	<-terminate
	node.Shutdown()
}
