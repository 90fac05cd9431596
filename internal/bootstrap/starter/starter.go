// Package starter creates bootstrap.Starter functions serving a Server on a
// listener.
package starter

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"gitlab.com/packrat/packrat/internal/bootstrap"
)

const (
	// TCP is the network of TCP listeners
	TCP string = "tcp"
	// Unix is the network of Unix socket listeners
	Unix string = "unix"
)

// Config represents a network type, and address
type Config struct {
	Name, Addr string
	// HandoverOnUpgrade indicates whether the socket should be handed over to the new
	// process during an upgrade. If the socket is not handed over, it should be be unique
	// to avoid colliding with the old process' socket. If the socket is a Unix socket, a
	// possible existing file at the path is removed.
	HandoverOnUpgrade bool
}

// Server able to serve requests.
type Server interface {
	// Serve accepts requests from the listener and handles them properly.
	Serve(lis net.Listener) error
}

// New creates a new bootstrap.Starter from a config and a Server
func New(cfg Config, server Server) bootstrap.Starter {
	return func(listenWithHandover bootstrap.ListenFunc, errCh chan<- error) error {
		if cfg.Name != TCP && cfg.Name != Unix {
			return fmt.Errorf("unsupported network: %q", cfg.Name)
		}

		listen := listenWithHandover
		if !cfg.HandoverOnUpgrade {
			if cfg.Name == Unix {
				if err := os.Remove(cfg.Addr); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove previous socket file: %w", err)
				}
			}

			listen = net.Listen
		}

		l, err := listen(cfg.Name, cfg.Addr)
		if err != nil {
			return err
		}

		logrus.WithField("address", l.Addr().String()).Infof("listening at %s address", cfg.Name)
		l = wrap(cfg.Name, l)

		go func() {
			errCh <- server.Serve(l)
		}()

		return nil
	}
}
