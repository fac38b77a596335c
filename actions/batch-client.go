package actions

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/strataetl/strata/helper"
)

// BatchClientConfig addresses a running strata web server so batch subcommands
// can inspect and retry batches from another process.
type BatchClientConfig struct {
	ServerURL string `errorTxt:"server url" mandatory:"yes"`
	BatchId   string
}

func (c *BatchClientConfig) url(parts ...string) string {
	return strings.TrimRight(c.ServerURL, "/") + "/" + strings.Join(parts, "/")
}

// RunBatchList prints the batch ledger of a running server.
func RunBatchList(cfg *BatchClientConfig) error {
	if err := helper.ValidateStructIsPopulated(cfg); err != nil {
		return err
	}
	return getAndPrint(cfg.url("batches"))
}

// RunBatchStatus prints one batch's ledger entry.
func RunBatchStatus(cfg *BatchClientConfig) error {
	if err := helper.ValidateStructIsPopulated(cfg); err != nil {
		return err
	}
	if cfg.BatchId == "" {
		return fmt.Errorf("please supply a batch id")
	}
	return getAndPrint(cfg.url("batches", cfg.BatchId))
}

// RunBatchRetry asks a running server to clear a failed batch's output and
// reprocess it from the bronze layer.
func RunBatchRetry(cfg *BatchClientConfig) error {
	if err := helper.ValidateStructIsPopulated(cfg); err != nil {
		return err
	}
	if cfg.BatchId == "" {
		return fmt.Errorf("please supply a batch id")
	}
	resp, err := newBatchClient().Post(cfg.url("batches", cfg.BatchId, "retry"), "application/json", nil)
	if err != nil {
		return errors.Wrap(err, "unable to reach the strata server")
	}
	return printResponse(resp)
}

func getAndPrint(url string) error {
	resp, err := newBatchClient().Get(url)
	if err != nil {
		return errors.Wrap(err, "unable to reach the strata server")
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "unable to read server response")
	}
	fmt.Println(string(b))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned HTTP status code %v", resp.StatusCode)
	}
	return nil
}

func newBatchClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
