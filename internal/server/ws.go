package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rehearse/internal/rehearsal"
)

// outboundBuffer is the number of frames the writer may lag behind.
const outboundBuffer = 16

var (
	errSessionEnded = errors.New("server: session ended")
	errIdle         = errors.New("server: connection idle")
	errClientGone   = errors.New("server: client gone")
)

// SessionFactory creates the session for a new connection. emitter delivers
// the session's outbound frames to the socket.
type SessionFactory func(emitter rehearsal.Emitter) (*rehearsal.Session, error)

// wsHandler upgrades requests to WebSocket connections and runs one
// rehearsal session on each.
type wsHandler struct {
	base        context.Context
	newSession  SessionFactory
	manager     *Manager
	readLimit   int64
	idleTimeout time.Duration
	origins     []string
	log         *slog.Logger
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		// Accept already wrote the HTTP error response.
		h.log.Debug("server: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	// Hijacked connections outlive http.Server.Shutdown, so tie them to the
	// server's base context as well.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	h.serve(ctx, conn, r.RemoteAddr)
}

// serve runs the reader, the session worker and the writer of one
// connection until any of them ends it.
func (h *wsHandler) serve(ctx context.Context, conn *websocket.Conn, remote string) {
	g, gctx := errgroup.WithContext(ctx)

	out := make(chan rehearsal.Outbound, outboundBuffer)
	emitter := rehearsal.EmitterFunc(func(ctx context.Context, msg rehearsal.Outbound) error {
		select {
		case out <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	sess, err := h.newSession(emitter)
	if err != nil {
		h.log.Error("server: create session", "remote", remote, "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	remove, err := h.manager.Add(sess)
	if err != nil {
		h.log.Debug("server: connection refused during shutdown", "remote", remote)
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer remove()

	log := h.log.With("session_id", sess.ID(), "remote", remote)
	log.Info("server: connection opened", "sessions", h.manager.Len())

	if err := writeFrame(ctx, conn, rehearsal.Connected{}); err != nil {
		log.Debug("server: write connected", "err", err)
		return
	}

	ended := make(chan error, 1)

	// Worker: the session state machine.
	g.Go(func() error {
		ended <- sess.Run(gctx)
		return nil
	})

	// Writer: serialises outbound frames and closes the socket once the
	// session reached a terminal state.
	g.Go(func() error {
		for {
			select {
			case msg := <-out:
				if err := writeFrame(gctx, conn, msg); err != nil {
					return err
				}
			case runErr := <-ended:
				for drained := false; !drained; {
					select {
					case msg := <-out:
						if err := writeFrame(gctx, conn, msg); err != nil {
							return err
						}
					default:
						drained = true
					}
				}
				if gctx.Err() != nil {
					return nil
				}
				status, reason := closeStatus(runErr)
				log.Debug("server: closing finished session", "status", status, "reason", reason)
				conn.Close(status, reason)
				return errSessionEnded
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Reader: hands every frame to the session. It always returns an error
	// so that a vanished client also stops the worker and the writer.
	g.Go(func() error {
		for {
			readCtx, cancelRead := gctx, context.CancelFunc(func() {})
			if h.idleTimeout > 0 {
				readCtx, cancelRead = context.WithTimeout(gctx, h.idleTimeout)
			}
			_, data, err := conn.Read(readCtx)
			idle := errors.Is(readCtx.Err(), context.DeadlineExceeded) && gctx.Err() == nil
			cancelRead()
			if err != nil {
				if idle {
					return errIdle
				}
				return fmt.Errorf("%w: %w", errClientGone, err)
			}
			if err := sess.Submit(gctx, data); errors.Is(err, rehearsal.ErrSessionClosed) {
				return errSessionEnded
			}
		}
	})

	err = g.Wait()
	snap := sess.Snapshot()
	switch {
	case errors.Is(err, errIdle):
		log.Info("server: connection closed after idle timeout", "timeout", h.idleTimeout, "state", snap.State)
	case errors.Is(err, errSessionEnded), errors.Is(err, errClientGone), errors.Is(err, context.Canceled):
		log.Info("server: connection closed", "state", snap.State, "line", snap.CurrentLine)
		log.Debug("server: close cause", "err", err)
	default:
		log.Warn("server: connection failed", "state", snap.State, "err", err)
	}
}

// closeStatus maps how a session ended to a WebSocket close code.
func closeStatus(runErr error) (websocket.StatusCode, string) {
	switch {
	case runErr == nil:
		return websocket.StatusNormalClosure, "rehearsal complete"
	case errors.Is(runErr, rehearsal.ErrInternal):
		return websocket.StatusInternalError, "internal error"
	default:
		return websocket.StatusPolicyViolation, "invalid session"
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg rehearsal.Outbound) error {
	data, err := rehearsal.Encode(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
