package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/strataetl/strata/batch"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/loader"
	"github.com/strataetl/strata/logger"
)

type WebServerResponse uint32

const (
	Okay WebServerResponse = iota + 1
	Error
)

func (w WebServerResponse) MarshalJSON() ([]byte, error) {
	var retval string
	switch w {
	case Okay:
		retval = "ok"
	case Error:
		retval = "error"
	default:
		err := fmt.Errorf("unhandled WebServerResponse value in MarshalJSON() conversion")
		return nil, err
	}
	return json.Marshal(retval)
}

type ResponseSimple struct {
	ServerStatus WebServerResponse `json:"status"`
}

type ResponseBatchList struct {
	Status  WebServerResponse `json:"status"`
	Batches interface{}       `json:"batches"`
}

type ResponseBatch struct {
	Status  WebServerResponse `json:"status"`
	Message string            `json:"message"`
	Batch   interface{}       `json:"batch,omitempty"`
}

type ResponseLoadList struct {
	Status WebServerResponse   `json:"status"`
	Loads  []loader.LoadStatus `json:"loads"`
}

type ResponseLoadStats struct {
	Status       WebServerResponse `json:"status"`
	Message      string            `json:"message"`
	StatsSummary interface{}       `json:"loadStats,omitempty"`
	Counts       interface{}       `json:"loadCounts,omitempty"`
}

type ResponseLoadStatus struct {
	Status     WebServerResponse `json:"status"`
	Message    string            `json:"message"`
	LoadStatus interface{}       `json:"loadStatus,omitempty"`
}

type ResponseLoadLaunch struct {
	Status  WebServerResponse `json:"status"`
	Message string            `json:"message"`
	BatchId string            `json:"batchId,omitempty"`
}

// LoadRequest is the POST /loads body: a pipe definition plus the source rows
// to push through it as one batch.
type LoadRequest struct {
	Pipe    loader.PipeDefinition    `json:"pipe"`
	Records []map[string]interface{} `json:"records"`
}

func GetHandlerHealth(log logger.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseSimple{ServerStatus: Okay})
	}
}

func GetHandlerStopServer(log logger.Logger, chanStop chan string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		chanStop <- "stop"
		log.Info("Stop signal sent")
		respond(log, w, ResponseSimple{ServerStatus: Okay})
	}
}

func GetHandlerBatchList(log logger.Logger, m *loader.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		batches := m.Tracker().List()
		if s := r.FormValue("status"); s != "" { // optional CSV filter e.g. ?status=failed,pending
			wanted := make(map[string]bool)
			for _, v := range helper.CsvToStringSliceTrimSpaces(s) {
				wanted[v] = true
			}
			filtered := make([]batch.Batch, 0, len(batches))
			for _, b := range batches {
				if wanted[b.Status] {
					filtered = append(filtered, b)
				}
			}
			batches = filtered
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseBatchList{Status: Okay, Batches: batches})
	}
}

func GetHandlerBatchStatus(log logger.Logger, m *loader.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id := vars["batchId"]
		b, err := m.Tracker().Get(id)
		if err != nil { // if the batch doesn't exist...
			w.WriteHeader(http.StatusBadRequest)
			log.Info("HTTP request for status of batch ", id, " that doesn't exist.")
			respond(log, w, ResponseBatch{Status: Error, Message: err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseBatch{Status: Okay, Batch: b})
	}
}

func GetHandlerBatchRetry(log logger.Logger, m *loader.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id := vars["batchId"]
		// Re-run from committed bronze rows so the caller doesn't resupply the file.
		if err := m.StartRetryFromBronze(context.Background(), id); err != nil {
			log.Error(err)
			w.WriteHeader(http.StatusBadRequest)
			respond(log, w, ResponseBatch{Status: Error, Message: fmt.Sprintf("unable to retry batch %v: %v", id, err)})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseBatch{Status: Okay, Message: "retry launched"})
	}
}

func GetHandlerLoadList(log logger.Logger, m *loader.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseLoadList{Status: Okay, Loads: m.Loads()})
	}
}

func GetHandlerLoadStats(log logger.Logger, m *loader.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id := vars["batchId"]
		info, ok := m.LoadInfo(id)
		if !ok { // if the load doesn't exist...
			w.WriteHeader(http.StatusBadRequest)
			log.Info("HTTP request to fetch stats for load ", id, " that doesn't exist.")
			respond(log, w, ResponseLoadStats{Status: Error, Message: fmt.Sprintf("load %v does not exist", id)})
			return
		}
		resp := ResponseLoadStats{Status: Okay}
		if info.Stats != nil {
			resp.StatsSummary = info.Stats.GetStats()
		}
		if info.Counts != nil {
			resp.Counts = info.Counts.Map()
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, resp)
	}
}

func GetHandlerLoadStatus(log logger.Logger, m *loader.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id := vars["batchId"]
		info, ok := m.LoadInfo(id)
		if !ok { // if the load doesn't exist...
			w.WriteHeader(http.StatusBadRequest)
			log.Info("HTTP request for status of load ", id, " that doesn't exist.")
			respond(log, w, ResponseLoadStatus{Status: Error, Message: fmt.Sprintf("load %v does not exist", id)})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseLoadStatus{Status: Okay, LoadStatus: info.Status})
	}
}

func GetHandlerLoadLaunch(log logger.Logger, m *loader.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		// Ingest the load request from the request body JSON.
		b, _ := ioutil.ReadAll(r.Body)
		req := LoadRequest{}
		err := json.Unmarshal(b, &req)
		if err != nil {
			logAndRespond(log, err, w,
				ResponseLoadLaunch{Status: Error, Message: fmt.Sprintf("error unmarshalling JSON: %v", err)})
			return
		}
		if err := req.Pipe.Validate(); err != nil {
			logAndRespond(log, err, w,
				ResponseLoadLaunch{Status: Error, Message: fmt.Sprintf("invalid pipe definition supplied: %v", err)})
			return
		}
		if len(req.Records) == 0 {
			err := fmt.Errorf("no records supplied")
			logAndRespond(log, err, w, ResponseLoadLaunch{Status: Error, Message: err.Error()})
			return
		}
		recs := rowsToRecords(req.Records)
		// Register the batch then launch the load in the background.
		bat := m.Tracker().Register(req.Pipe.Source.Name, req.Pipe.Source.FileName, time.Now())
		if err := m.StartLoad(context.Background(), &req.Pipe, bat.Id, recs); err != nil {
			logAndRespond(log, err, w,
				ResponseLoadLaunch{Status: Error, Message: fmt.Sprintf("unable to launch load: %v", err), BatchId: bat.Id})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseLoadLaunch{Status: Okay, Message: "load launched", BatchId: bat.Id})
		return
	}
}

// logAndRespond will log the error, write a http.StatusBadRequest and r to w.
func logAndRespond(log logger.Logger, err error, w http.ResponseWriter, r interface{}) {
	log.Error(err)
	w.WriteHeader(http.StatusBadRequest)
	respond(log, w, r)
}

// respond will marshal i to a string and write it to w.
func respond(log logger.Logger, w http.ResponseWriter, i interface{}) {
	j, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		log.Panic(err)
	}
	_, err = fmt.Fprint(w, string(j))
	if err != nil {
		log.Panic(err)
	}
}
