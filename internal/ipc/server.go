package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"ripforge/internal/daemon"
	"ripforge/internal/history"
	"ripforge/internal/jobs"
	"ripforge/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer listens on path, replacing any stale socket file.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops accepting, waits for open connections and removes the socket.
// Clients still connected keep Close waiting until they hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.DaemonStatus = s.daemon.Status()
	return nil
}

func (s *service) QueueList(_ QueueListRequest, resp *QueueListResponse) error {
	resp.Items = s.daemon.Queue()
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	if req.Limit < 0 {
		return fmt.Errorf("invalid limit %d", req.Limit)
	}
	items, err := s.daemon.History(s.ctx, history.Filter{
		Kind:       jobs.Kind(req.Kind),
		ErrorsOnly: req.ErrorsOnly,
		Limit:      req.Limit,
	})
	if err != nil {
		return err
	}
	resp.Items = items
	return nil
}

func (s *service) ClearHistory(_ ClearHistoryRequest, resp *ClearHistoryResponse) error {
	removed, err := s.daemon.ClearHistory(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.logger.Info("history cleared",
		logging.String(logging.FieldEventType, "history_clear"),
		logging.Int("removed_count", removed),
	)
	return nil
}

func (s *service) Encode(req EncodeRequest, resp *EnqueueResponse) error {
	out, err := s.daemon.EnqueueEncode(req.Path, req.KeepSource)
	if err != nil {
		return err
	}
	resp.EnqueueResponse = out
	return nil
}

func (s *service) Scan(req ScanRequest, resp *EnqueueResponse) error {
	out, err := s.daemon.EnqueueScan(req.Drive)
	if err != nil {
		return err
	}
	resp.EnqueueResponse = out
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
