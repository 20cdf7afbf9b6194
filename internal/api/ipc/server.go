package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
	"github.com/minaprotocol/mina-indexer/internal/query"
)

var log = logrus.WithField("prefix", "ipc")

// Service listens on a Unix-domain stream socket and answers framed
// requests against the query resolver. The shutdown verb invokes the
// supervisor-provided callback.
type Service struct {
	socketPath string
	resolver   *query.Resolver
	shutdown   func()

	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	failStatus error
}

// NewService prepares an IPC server on socketPath. A stale socket file
// from an unclean previous exit is removed before binding.
func NewService(ctx context.Context, socketPath string, resolver *query.Resolver, shutdown func()) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		socketPath: socketPath,
		resolver:   resolver,
		shutdown:   shutdown,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds the socket and begins accepting connections.
func (s *Service) Start() {
	if err := os.RemoveAll(s.socketPath); err != nil {
		s.failStatus = err
		return
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.failStatus = err
		log.WithError(err).Error("Could not bind domain socket")
		return
	}
	s.listener = listener
	log.WithField("socket", s.socketPath).Info("Starting IPC server")
	go s.acceptLoop()
}

// Stop closes the listener and unlinks the socket file.
func (s *Service) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return os.RemoveAll(s.socketPath)
}

// Status returns the bind error, if any.
func (s *Service) Status() error {
	return s.failStatus
}

func (s *Service) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			log.WithError(err).Warn("Accept failed")
			continue
		}
		go s.serveConn(conn)
	}
}

func (s *Service) serveConn(conn net.Conn) {
	defer conn.Close()
	connLog := log.WithField("conn", uuid.New().String()[:8])

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			return // EOF or framing error; either way the conversation is over
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		ctx, cancel := context.WithTimeout(s.ctx, params.Current().QueryDeadline)
		resp := s.handle(ctx, connLog, req)
		cancel()

		if err := writeFrame(conn, resp); err != nil {
			connLog.WithError(err).Warn("Could not write reply")
			return
		}
		if req.Verb == VerbShutdown && resp.Error == "" {
			// Invoke only after the acknowledgement is on the wire.
			s.shutdown()
			return
		}
	}
}

// accountBalanceParams is the request payload of the account_balance verb.
type accountBalanceParams struct {
	PublicKey string `json:"public_key"`
	Height    uint32 `json:"height,omitempty"` // 0 means the best height
}

// bestChainParams is the request payload of the best_chain verb.
type bestChainParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Service) handle(ctx context.Context, connLog *logrus.Entry, req Request) Response {
	resp := Response{ID: req.ID}
	connLog.WithFields(logrus.Fields{"verb": req.Verb, "id": req.ID}).Debug("IPC request")

	var data interface{}
	var err error
	switch req.Verb {
	case VerbBestChain:
		var p bestChainParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				resp.Error = "malformed params: " + err.Error()
				return resp
			}
		}
		data, err = s.bestChain(ctx, p.Limit)
	case VerbAccountBalance:
		var p accountBalanceParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			resp.Error = "malformed params: " + err.Error()
			return resp
		}
		data, err = s.accountBalance(ctx, p)
	case VerbSummary:
		data, err = s.resolver.Summary(ctx)
	case VerbShutdown:
		connLog.Info("Shutdown requested over IPC")
		data = map[string]string{"status": "shutting down"}
	default:
		resp.Error = "unknown verb " + req.Verb
		return resp
	}

	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	payload, err := json.Marshal(data)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Data = payload
	return resp
}

// bestChainRow is the per-block reply shape of the best_chain verb.
type bestChainRow struct {
	StateHash string `json:"state_hash"`
	Height    uint32 `json:"height"`
	Slot      uint32 `json:"slot"`
	Creator   string `json:"creator"`
	DateTime  int64  `json:"date_time"`
}

func (s *Service) bestChain(ctx context.Context, limit int) ([]bestChainRow, error) {
	results, err := s.resolver.BestChain(ctx, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]bestChainRow, len(results))
	for i, res := range results {
		rows[i] = bestChainRow{
			StateHash: string(res.Block.StateHash),
			Height:    uint32(res.Block.Height),
			Slot:      uint32(res.Block.Slot),
			Creator:   string(res.Block.Creator),
			DateTime:  res.Block.DateTime,
		}
	}
	return rows, nil
}

// accountBalanceReply is the reply shape of the account_balance verb.
type accountBalanceReply struct {
	PublicKey string `json:"public_key"`
	Balance   uint64 `json:"balance"`
	Nonce     uint64 `json:"nonce"`
	Delegate  string `json:"delegate"`
}

func (s *Service) accountBalance(ctx context.Context, p accountBalanceParams) (*accountBalanceReply, error) {
	acc, err := s.resolver.Account(ctx, model.PublicKey(p.PublicKey), model.BlockHeight(p.Height))
	if err != nil {
		if errors.Is(err, errkind.NotFound) {
			// An unseen account reads as empty, never as an error.
			return &accountBalanceReply{PublicKey: p.PublicKey}, nil
		}
		return nil, err
	}
	return &accountBalanceReply{
		PublicKey: string(acc.PublicKey),
		Balance:   uint64(acc.Balance),
		Nonce:     uint64(acc.Nonce),
		Delegate:  string(acc.Delegate),
	}, nil
}

// Dial connects to a running indexer's socket and issues a single request,
// used by the CLI's shutdown command.
func Dial(socketPath string, verb string, body interface{}) (*Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := Request{ID: uuid.New().String(), Verb: verb}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req.Params = payload
	}
	if err := writeFrame(conn, req); err != nil {
		return nil, err
	}
	var resp Response
	if err := readFrame(conn, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
