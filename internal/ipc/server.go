package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"dvbrx/internal/daemon"
	"dvbrx/internal/journal"
	"dvbrx/internal/logging"
	"dvbrx/internal/logs"
)

// requestTimeout bounds how long an RPC waits on the player loop.
const requestTimeout = 10 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: serverCtx}
	if err := rpcServer.RegisterName("Receiver", srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    srv.logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
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

// Close stops the server and removes the socket file.
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
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun dvbrx stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, requestTimeout)
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("receiver start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "receiver started"
	s.logger.Info("receiver started via IPC",
		logging.String(logging.FieldEventType, "receiver_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("receiver stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("receiver stopped via IPC",
		logging.String(logging.FieldEventType, "receiver_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	*resp = fromStatus(s.daemon.Status(ctx))
	return nil
}

func (s *service) Bands(_ BandsRequest, resp *BandsResponse) error {
	bands, presets, err := s.daemon.Bands()
	if err != nil {
		return err
	}
	resp.Bands = fromLibrary(bands)
	resp.Presets = presets
	return nil
}

func (s *service) Tune(req TuneRequest, resp *TuneResponse) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	report, err := s.daemon.Tune(ctx, daemon.TuneRequest{
		Band:   req.Band,
		Preset: req.Preset,
		Inline: req.Inline,
		Values: req.Values,
	})
	if err != nil {
		return err
	}
	resp.Receiver = FromReport(report)
	s.logger.Info("tune applied via IPC",
		logging.String(logging.FieldEventType, "ipc_tune"),
		logging.String(logging.FieldSourceKind, resp.Receiver.Source),
		logging.Bool("valid", resp.Receiver.Valid),
	)
	return nil
}

func (s *service) Restart(_ RestartRequest, resp *RestartResponse) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	report, err := s.daemon.Restart(ctx)
	if err != nil {
		return err
	}
	resp.Receiver = FromReport(report)
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	kinds := make([]journal.Kind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kinds = append(kinds, journal.Kind(k))
	}
	events, err := s.daemon.Events(ctx, journal.Query{After: req.After, Kinds: kinds, Limit: req.Limit})
	if err != nil {
		return err
	}
	resp.Events = events
	resp.Next = req.After
	if n := len(events); n > 0 {
		resp.Next = events[n-1].ID
		resp.RunID = events[n-1].RunID
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset:     req.Offset,
		Limit:      req.Limit,
		Follow:     req.Follow,
		Wait:       wait,
		SourceKind: req.SourceKind,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
