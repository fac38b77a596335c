// Package actions wires the CLI commands to the loader, tracker and web server.
package actions

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/strataetl/strata/batch"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/loader"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/storage"
)

type WebServerConfig struct {
	LogLevel         string `errorTxt:"log level" mandatory:"yes"`
	Scheme           string `errorTxt:"scheme" mandatory:"no"`
	Addr             net.IP `errorTxt:"address" mandatory:"no"`
	Port             int    `errorTxt:"port" mandatory:"no"`
	ConnectionName   string
	Connections      ConnectionLoader
	Connection       storage.ConnectionDetails
	StackDumpOnPanic bool
}

func RunWebServer(web *WebServerConfig) error {
	if web == nil {
		return errors.New("nil pointer to web server config supplied")
	}
	log := logger.NewLogger("strata", web.LogLevel, web.StackDumpOnPanic)
	if web.Connection.Type == "" && web.Connections != nil { // resolve the named connection...
		d, err := web.Connections.LoadConnection(web.ConnectionName)
		if err != nil {
			return err
		}
		web.Connection = d
	}
	if err := helper.ValidateStructIsPopulated(web); err != nil {
		return err
	}
	store, err := storage.NewStore(log, web.Connection)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	tracker := batch.NewTracker(log)
	manager := loader.NewManager(log, store, tracker)
	srv, chanStopServer := runServer(log, web, manager)
	return waitForServer(log, srv, chanStopServer)
}

// runServer starts a web server and returns:
// 1) the server; and
// 2) a channel that can be used to stop the web server
func runServer(log logger.Logger, web *WebServerConfig, manager *loader.Manager) (*http.Server, chan string) {
	chanStopServer := make(chan string, 1)
	// Create routes.
	r := mux.NewRouter()
	r.HandleFunc("/stop", GetHandlerStopServer(log, chanStopServer))
	r.Path("/health").HandlerFunc(GetHandlerHealth(log))
	r.Path("/batches").HandlerFunc(GetHandlerBatchList(log, manager))
	r.Path("/batches/{batchId}").HandlerFunc(GetHandlerBatchStatus(log, manager))
	r.Path("/batches/{batchId}/retry").Methods(http.MethodPost).HandlerFunc(GetHandlerBatchRetry(log, manager))
	r.Path("/loads").Methods(http.MethodGet).HandlerFunc(GetHandlerLoadList(log, manager))
	r.Path("/loads/{batchId}/stats").HandlerFunc(GetHandlerLoadStats(log, manager))
	r.Path("/loads/{batchId}/status").HandlerFunc(GetHandlerLoadStatus(log, manager))
	r.Path("/loads").Methods(http.MethodPost).Headers("Content-Type", "application/json").HandlerFunc(
		GetHandlerLoadLaunch(log, manager))
	// Configure HTTP server.
	srv := &http.Server{ // Good practice to set timeouts to avoid Slowloris attacks.
		Addr:         fmt.Sprintf("%v:%v", web.Addr, web.Port),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r, // supply our instance of gorilla/mux.
	}
	// Run HTTP server non-blocking.
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			if err == http.ErrServerClosed {
				log.Info(err)
			} else {
				log.Panic(err)
			}
		}
	}()
	log.Info(fmt.Sprintf("Listening on %v://%v:%v", strings.ToLower(web.Scheme), web.Addr, web.Port))
	return srv, chanStopServer
}

func waitForServer(log logger.Logger, srv *http.Server, chanStopServer chan string) error {
	// Block & wait for shutdown signals.
	// Accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+\) will not be caught.
	chanOS := make(chan os.Signal, 1)
	signal.Notify(chanOS, os.Interrupt)
	select {
	case <-chanStopServer:
	case <-chanOS:
	}
	fmt.Println() // print new line char for clean looking CLI.
	log.Info("Shutting down web server...")
	wait := time.Second * 15
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return srv.Shutdown(ctx) // Doesn't block if no connections, but will otherwise wait until the timeout deadline.
}
