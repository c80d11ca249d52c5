package networkio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/workers"
	"github.com/raa-org/sevpn/pkg/config"
)

var (
	serviceName = "networkio"
)

// isTemporaryError checks if an error is temporary and should be ignored.
func isTemporaryError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.EAGAIN, syscall.EINTR:
			return true
		}
	}
	return false
}

// isConnectionReset checks if an error indicates a connection reset.
func isConnectionReset(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, ErrServerClosed) {
		return true
	}
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE:
			return true
		}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return false
	}
	return false
}

// Service is the network I/O service. Make sure you initialize
// the channels before invoking [Service.StartWorkers].
type Service struct {
	// SessionToNetwork moves Ethernet payloads from the session down
	// to the TCP channel.
	SessionToNetwork chan []byte

	// NetworkToSession moves Ethernet payloads up from the TCP channel
	// to the session.
	NetworkToSession *chan []byte
}

// StartWorkers starts the network I/O workers.
func (svc *Service) StartWorkers(
	config *config.Config,
	manager *workers.Manager,
	conn FramedConn,
) {
	ws := &workersState{
		conn:             conn,
		logger:           config.Logger(),
		manager:          manager,
		sessionToNetwork: svc.SessionToNetwork,
		networkToSession: *svc.NetworkToSession,
	}

	manager.StartWorker(ws.moveUpWorker)
	manager.StartWorker(ws.moveDownWorker)
}

// workersState contains the service workers state.
type workersState struct {
	// conn is the framed connection to use.
	conn FramedConn

	// logger is the logger to use.
	logger model.Logger

	// manager controls the workers lifecycle.
	manager *workers.Manager

	// sessionToNetwork is the channel for reading outgoing frames
	// that are coming down to us.
	sessionToNetwork <-chan []byte

	// networkToSession is the channel for writing incoming frames
	// that are coming up to us from the net.
	networkToSession chan<- []byte
}

// moveUpWorker moves frames up the stack.
func (ws *workersState) moveUpWorker() {
	workerName := fmt.Sprintf("%s: moveUpWorker", serviceName)

	defer func() {
		ws.manager.OnWorkerDone(workerName)
		ws.manager.StartShutdown()
	}()

	ws.logger.Debugf("%s: started", workerName)

	for {
		select {
		case <-ws.manager.ShouldShutdown():
			return
		default:
		}

		// POSSIBLY BLOCK on the connection to read frames
		frames, err := ws.conn.ReadFrames()
		if err != nil {
			if isTemporaryError(err) {
				ws.logger.Debugf("%s: ReadFrames: temporary error (ignored): %s", workerName, err.Error())
				continue
			}
			if isConnectionReset(err) {
				ws.logger.Infof("%s: ReadFrames: connection reset: %s", workerName, err.Error())
				return
			}
			ws.logger.Infof("%s: ReadFrames: %s", workerName, err.Error())
			return
		}

		// An empty batch means only keep-alives were consumed.
		for _, frame := range frames {
			// POSSIBLY BLOCK on the channel to deliver the frame
			select {
			case ws.networkToSession <- frame:
			case <-ws.manager.ShouldShutdown():
				return
			}
		}
	}
}

// moveDownWorker moves frames down the stack.
func (ws *workersState) moveDownWorker() {
	workerName := fmt.Sprintf("%s: moveDownWorker", serviceName)

	defer func() {
		ws.manager.OnWorkerDone(workerName)
		ws.manager.StartShutdown()
	}()

	ws.logger.Debugf("%s: started", workerName)

	for {
		// POSSIBLY BLOCK when receiving from channel.
		select {
		case frame := <-ws.sessionToNetwork:
			// POSSIBLY BLOCK on the connection to write the frame
			if err := ws.conn.WriteFrame(frame); err != nil {
				if isTemporaryError(err) {
					ws.logger.Debugf("%s: WriteFrame: temporary error (ignored): %s", workerName, err.Error())
					continue
				}
				if isConnectionReset(err) {
					ws.logger.Infof("%s: WriteFrame: connection reset: %s", workerName, err.Error())
					return
				}
				ws.logger.Infof("%s: WriteFrame: %s", workerName, err.Error())
				return
			}

		case <-ws.manager.ShouldShutdown():
			return
		}
	}
}
