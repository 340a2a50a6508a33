// Package engine is a thin HTTP client for the backing streaming SQL
// engine. The gateway only ever issues statements, streams query rows and
// probes engine status through it; all admission decisions happen before a
// request reaches this package.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	Addr                string
	Timeout             int64
	DialTimeout         int64
	MaxIdleConnsPerHost int
	BasicAuthUser       string
	BasicAuthPass       string
}

func (c *Config) PreCheck() {
	if c.Timeout <= 0 {
		c.Timeout = 30000
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5000
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 32
	}
}

type Client struct {
	cfg Config

	// statement calls are bounded by cfg.Timeout; streaming queries run
	// for the lifetime of the query and are bounded by ctx only
	cli       *http.Client
	streamCli *http.Client
}

func New(cfg Config) *Client {
	cfg.PreCheck()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: time.Duration(cfg.DialTimeout) * time.Millisecond,
		}).DialContext,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
	}

	return &Client{
		cfg: cfg,
		cli: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Timeout) * time.Millisecond,
		},
		streamCli: &http.Client{
			Transport: transport,
		},
	}
}

type statementReq struct {
	Sql        string            `json:"ksql"`
	Properties map[string]string `json:"streamsProperties,omitempty"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Addr+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.BasicAuthUser != "" {
		req.SetBasicAuth(c.cfg.BasicAuthUser, c.cfg.BasicAuthPass)
	}
	return req, nil
}

// ExecStatement runs a non-streaming statement (CREATE STREAM, TERMINATE,
// LIST ...) and returns the parsed engine response.
func (c *Client) ExecStatement(ctx context.Context, sql string) (gjson.Result, error) {
	buf, err := json.Marshal(statementReq{Sql: sql})
	if err != nil {
		return gjson.Result{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/ksql", bytes.NewReader(buf))
	if err != nil {
		return gjson.Result{}, err
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return gjson.Result{}, errors.WithMessage(err, "engine statement request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = string(body)
		}
		return gjson.Result{}, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, msg)
	}

	return gjson.ParseBytes(body), nil
}

// StreamQuery runs a push query and forwards each response line to onRow
// as it arrives. It returns when the engine closes the stream, onRow
// returns an error, or ctx is cancelled.
func (c *Client) StreamQuery(ctx context.Context, sql string, props map[string]string, onRow func(line []byte) error) error {
	buf, err := json.Marshal(statementReq{Sql: sql, Properties: props})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/query", bytes.NewReader(buf))
	if err != nil {
		return err
	}

	resp, err := c.streamCli.Do(req)
	if err != nil {
		return errors.WithMessage(err, "engine query request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = string(body)
		}
		return fmt.Errorf("engine returned status %d: %s", resp.StatusCode, msg)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := onRow(line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		// a cancelled context surfaces as a read error on the body
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	return nil
}

// CreateStream issues CREATE STREAM name AS <sql> and returns the engine's
// id for the spawned persistent query.
func (c *Client) CreateStream(ctx context.Context, name, sql string) (string, error) {
	res, err := c.ExecStatement(ctx, fmt.Sprintf("CREATE STREAM %s AS %s;", name, sql))
	if err != nil {
		return "", err
	}

	queryID := res.Get("0.commandStatus.queryId").String()
	if queryID == "" {
		queryID = res.Get("0.commandStatus.commandSequenceNumber").String()
	}
	return queryID, nil
}

// TerminateQuery stops the persistent query with the given engine id.
func (c *Client) TerminateQuery(ctx context.Context, queryID string) error {
	res, err := c.ExecStatement(ctx, fmt.Sprintf("TERMINATE %s;", queryID))
	if err != nil {
		return err
	}

	status := res.Get("0.commandStatus.status").String()
	if status != "" && status != "SUCCESS" && status != "QUEUED" && status != "EXECUTING" {
		return fmt.Errorf("terminate %s failed with status %s", queryID, status)
	}
	return nil
}

// Info probes the engine status endpoint.
func (c *Client) Info(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/info", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, errors.WithMessage(err, "engine info request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
