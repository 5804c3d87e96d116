package broadcast

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pool-sentry/sentry/utils"
)

// IPC exposes the hub to local subscriber processes over a Unix domain
// socket.  Every accepted connection becomes an ordinary hub subscriber, so
// slow readers are isolated by the same per-subscriber queues and policy as
// in-process consumers.
type IPC struct {
	socketPath   string
	writeTimeout time.Duration

	hub    *Hub
	logger *zap.Logger

	listener net.Listener
	cancel   context.CancelFunc
}

func NewIPC(socketPath string, writeTimeout time.Duration, hub *Hub) *IPC {
	return &IPC{
		socketPath:   socketPath,
		writeTimeout: writeTimeout,
		hub:          hub,
		logger:       zap.L().With(zap.String("ipc_socket", socketPath)),
	}
}

func (s *IPC) Run(ctx context.Context, failure chan<- error) {
	l := s.logger

	_ = os.Remove(s.socketPath) // a previous run may have left the socket behind

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		failure <- err
		return
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		l.Info("IPC listener is going up...")
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
					failure <- err
				}
				l.Info("IPC listener is down")
				return
			}
			go s.serve(ctx, conn)
		}
	}()
}

func (s *IPC) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	errs := make([]error, 0, 2)
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}

	return utils.FlattenErrors(errs)
}

func (s *IPC) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer sub.Close()

	l := s.logger.With(
		zap.String("subscriber_id", sub.ID()),
	)
	l.Info("IPC subscriber connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { // consumers never send; a read returning is a disconnect
		_, _ = io.Copy(io.Discard, conn)
		cancel()
	}()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			l.Info("IPC subscriber done",
				zap.NamedError("reason", err),
			)
			return
		}

		if err := conn.SetWriteDeadline(utils.Deadline(s.writeTimeout)); err != nil {
			l.Warn("Failed to set write deadline on IPC connection",
				zap.Error(err),
			)
			return
		}
		if err := WriteRecord(conn, ev); err != nil {
			l.Warn("Failed to write IPC record; dropping subscriber",
				zap.Error(err),
			)
			return
		}
	}
}
