package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/strataetl/strata/batch"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/loader"
	"github.com/strataetl/strata/logger"
	"github.com/strataetl/strata/stats"
	"github.com/strataetl/strata/storage"
)

type LoadConfig struct {
	PipeFile         string `errorTxt:"pipe file" mandatory:"yes"`
	InputFile        string `errorTxt:"input file" mandatory:"yes"`
	ConnectionName   string
	Connections      ConnectionLoader `errorTxt:"connection loader" mandatory:"yes"`
	LogLevel         string
	TimeoutSeconds   int
	WithWebService   bool
	StackDumpOnPanic bool
}

// LoadSummary is printed to stdout after a foreground load so callers can
// script against the per-batch counters.
type LoadSummary struct {
	Batch  batch.Batch       `json:"batch"`
	Load   loader.LoadStatus `json:"load"`
	Counts *stats.LoadCounts `json:"counts,omitempty"`
}

// RunLoadFromFile drives one batch described by a pipe definition file through
// the layers, either in the foreground or via a freshly started web server so
// progress can be monitored remotely.
func RunLoadFromFile(load *LoadConfig, web *WebServerConfig) error {
	if load == nil {
		return fmt.Errorf("nil pointer to load config supplied")
	}
	if err := helper.ValidateStructIsPopulated(load); err != nil {
		return err
	}
	log := logger.NewLogger("strata", load.LogLevel, load.StackDumpOnPanic)
	b, err := ioutil.ReadFile(load.PipeFile)
	if err != nil {
		return errors.Wrapf(err, "unable to read pipe definition file %v", load.PipeFile)
	}
	pipe, err := loader.LoadPipeDefinition(b)
	if err != nil {
		return err
	}
	if pipe.Source.FileName == "" { // stamp lineage with the real input file.
		pipe.Source.FileName = load.InputFile
	}
	rows, err := readRowsFile(load.InputFile)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("input file %v holds no records", load.InputFile)
	}
	conn, err := load.Connections.LoadConnection(load.ConnectionName)
	if err != nil {
		return err
	}
	store, err := storage.NewStore(log, conn)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	tracker := batch.NewTracker(log)
	manager := loader.NewManager(log, store, tracker)
	if load.WithWebService { // if we should serve progress while loading...
		return launchLoadWithServer(log, manager, web, pipe, rows)
	}
	return runLoadForeground(log, manager, load, pipe, rows)
}

// runLoadForeground runs the load synchronously and prints a summary.
func runLoadForeground(log logger.Logger, m *loader.Manager, load *LoadConfig, pipe *loader.PipeDefinition, rows []map[string]interface{}) error {
	recs := rowsToRecords(rows)
	bat := m.Tracker().Register(pipe.Source.Name, pipe.Source.FileName, time.Now())
	ctx := context.Background()
	if load.TimeoutSeconds > 0 { // bound every storage wait by the caller's timeout.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(load.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	runErr := m.RunLoad(ctx, pipe, bat.Id, recs)
	// Print the summary even after a failed run; the counters show how far it got.
	summary := LoadSummary{}
	if b, err := m.Tracker().Get(bat.Id); err == nil {
		summary.Batch = b
	}
	if info, ok := m.LoadInfo(bat.Id); ok {
		summary.Load = info.Status
		summary.Counts = info.Counts
	}
	j, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Panic(err)
	}
	fmt.Println(string(j))
	return runErr
}

// launchLoadWithServer starts the web server then POSTs the load to it, exactly
// as a remote caller would, and blocks until the server is shut down.
func launchLoadWithServer(log logger.Logger, m *loader.Manager, web *WebServerConfig, pipe *loader.PipeDefinition, rows []map[string]interface{}) error {
	req := LoadRequest{Pipe: *pipe, Records: rows}
	b, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "unable to marshal load request")
	}
	srv, chanStopServer := runServer(log, web, m)
	url := "http://localhost:" + strconv.Itoa(web.Port) + "/loads"
	log.Debug("posting load to url = ", url)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(b))
	if err != nil {
		chanStopServer <- ""
		return errors.Wrap(err, "error launching load")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK { // if the POST failed...
		chanStopServer <- "" // shut down and quit.
		body, _ := ioutil.ReadAll(resp.Body)
		errMsg := fmt.Sprintf("error launching load, received HTTP status code %v: %v", resp.StatusCode, string(body))
		log.Error(errMsg)
		return errors.New(errMsg)
	}
	log.Info("Launched load from pipe definition")
	return waitForServer(log, srv, chanStopServer)
}
