// Command coordinator runs the collage commit coordinator: it listens for
// participant WebSocket connections, drives the two-phase commit protocol,
// and exposes an admin HTTP API (POST /commits to start a commit, plus
// read-only transaction and metrics routes) and a read-only GraphQL API.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mnohosten/collage-2pc/pkg/coordinator"
	"github.com/mnohosten/collage-2pc/pkg/transport"
)

func main() {
	dataDir := flag.String("data-dir", "./data/coordinator", "Directory for the coordinator's durable log")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: coordinator [-data-dir dir] <port>\n")
		os.Exit(1)
	}
	port := flag.Arg(0)

	logger := log.New(os.Stdout, "coordinator: ", log.LstdFlags)

	bus, mount := transport.NewCoordinatorBus(logger)
	c, err := coordinator.New(*dataDir, bus, logger)
	if err != nil {
		logger.Fatalf("failed to open coordinator: %v", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Logger)

	mount(router)
	c.RegisterAdminRoutes(router)
	if err := c.RegisterGraphQLRoute(router); err != nil {
		logger.Fatalf("failed to build graphql schema: %v", err)
	}

	addr := ":" + port
	httpSrv := &http.Server{Addr: addr, Handler: router}

	go c.Run()

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.Fatalf("server error: %v", err)
	case sig := <-sigChan:
		logger.Printf("received signal: %v, shutting down", sig)
	}

	if err := c.Close(); err != nil {
		logger.Printf("coordinator close error: %v", err)
	}
}
