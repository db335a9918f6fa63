// stgworker/server.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package stgworker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Server is a minimal storage worker test double: it replies OK to
// StartJob and Run, and reports a fixed TerminationStatus (settable via
// SetTerminationStatus) once Run has been received. It exists for tests
// in this package and in package consolidate, which needs a worker to
// drive without a real storage daemon.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	sock   zmq4.Socket

	mu          sync.Mutex
	terminal    TerminationStatus
	startedJobs []StartJobRequest
	ran         bool

	done chan struct{}
}

// NewServer binds a REP socket at addr and begins serving.
func NewServer(addr string) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(addr); err != nil {
		cancel()
		return nil, err
	}

	s := &Server{
		ctx:      ctx,
		cancel:   cancel,
		sock:     sock,
		terminal: TerminationStatus{SDJobStatus: StatusTerminated, JobFiles: 0},
		done:     make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

// SetTerminationStatus configures the status a subsequent "status" poll
// will report.
func (s *Server) SetTerminationStatus(t TerminationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal = t
}

// StartedJobs returns every StartJobRequest this server has received, for
// tests to assert on what the consolidator sent.
func (s *Server) StartedJobs() []StartJobRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StartJobRequest(nil), s.startedJobs...)
}

func (s *Server) serve() {
	defer close(s.done)
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			return
		}

		var req message
		if err := json.Unmarshal(msg.Bytes(), &req); err != nil {
			continue
		}

		var respPayload interface{}
		switch req.Type {
		case startJobMessage:
			var sj StartJobRequest
			json.Unmarshal(req.Payload, &sj)
			s.mu.Lock()
			s.startedJobs = append(s.startedJobs, sj)
			s.mu.Unlock()
			respPayload = StartJobResponse{OK: true}
		case runMessage:
			s.mu.Lock()
			s.ran = true
			s.mu.Unlock()
			respPayload = Ack{OK: true}
		case statusMessage:
			s.mu.Lock()
			if s.ran {
				respPayload = s.terminal
			} else {
				respPayload = TerminationStatus{SDJobStatus: StatusRunning}
			}
			s.mu.Unlock()
		default:
			respPayload = StartJobResponse{OK: false, Err: "unknown message type"}
		}

		body, _ := json.Marshal(respPayload)
		reply, _ := json.Marshal(message{RequestId: req.RequestId, Type: req.Type, Payload: body})
		if err := s.sock.Send(zmq4.NewMsg(reply)); err != nil {
			return
		}
	}
}

// Close stops serving and releases the socket.
func (s *Server) Close() error {
	s.cancel()
	err := s.sock.Close()
	<-s.done
	return err
}
