// stgworker/client.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package stgworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Client is one consolidation job's connection to a storage worker. It is
// not safe for concurrent use; a job owns exactly one Client for its
// lifetime, matching the single-owning-thread-per-session model the rest
// of the package assumes.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	sock   zmq4.Socket
}

// Connect dials addr as a REQ socket, failing with ErrConnect if the dial
// does not complete within timeout.
func Connect(addr string, timeout time.Duration) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewReq(ctx)

	dialCtx, dialCancel := context.WithTimeout(ctx, timeout)
	defer dialCancel()

	if err := dialWithContext(dialCtx, sock, addr); err != nil {
		sock.Close()
		cancel()
		return nil, ErrConnect
	}
	return &Client{ctx: ctx, cancel: cancel, sock: sock}, nil
}

func dialWithContext(ctx context.Context, sock zmq4.Socket, addr string) error {
	done := make(chan error, 1)
	go func() { done <- sock.Dial(addr) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	c.cancel()
	return c.sock.Close()
}

func (c *Client) roundTrip(msgType string, payload, reply interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	reqId := newRequestId()
	raw, err := json.Marshal(message{RequestId: reqId, Type: msgType, Payload: body})
	if err != nil {
		return err
	}
	if err := c.sock.Send(zmq4.NewMsg(raw)); err != nil {
		return err
	}

	respMsg, err := c.sock.Recv()
	if err != nil {
		return err
	}
	var resp message
	if err := json.Unmarshal(respMsg.Bytes(), &resp); err != nil {
		return err
	}
	if resp.RequestId != reqId {
		return fmt.Errorf("stgworker: reply request_id %q does not match request %q", resp.RequestId, reqId)
	}
	if reply != nil {
		return json.Unmarshal(resp.Payload, reply)
	}
	return nil
}

// StartJob hands the worker its read and write storage lists, plus the
// bootstrap bytes when sendBSR is set.
func (c *Client) StartJob(readStorage, writeStorage []string, sendBSR bool, bsr []byte) error {
	if len(readStorage) == 0 || len(writeStorage) == 0 {
		return ErrNoStorage
	}
	req := StartJobRequest{ReadStorage: readStorage, WriteStorage: writeStorage, SendBSR: sendBSR}
	if sendBSR {
		req.BSR = bsr
	}

	var resp StartJobResponse
	if err := c.roundTrip(startJobMessage, req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("stgworker: start job rejected: %s", resp.Err)
	}
	return nil
}

// Run sends the literal "run" command that starts the worker's backup
// session.
func (c *Client) Run() error {
	var ack Ack
	if err := c.roundTrip(runMessage, nil, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("stgworker: run rejected")
	}
	return nil
}

// WaitForTermination polls the worker's status until it reports a
// terminal state, sleeping pollInterval between polls, or returns ctx's
// error if it is canceled first — the consolidator's hook for
// propagating a user cancellation onto the storage channel.
func (c *Client) WaitForTermination(ctx context.Context, pollInterval time.Duration) (TerminationStatus, error) {
	for {
		var status TerminationStatus
		if err := c.roundTrip(statusMessage, nil, &status); err != nil {
			return TerminationStatus{}, err
		}
		if status.SDJobStatus.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return TerminationStatus{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
