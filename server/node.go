package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/capatazlib/go-capataz/cap"
)

// NewHTTPNode builds a `cap.Node` that runs the given HTTP server with the
// handler of this Server.
func (s *Server) NewHTTPNode(server *http.Server, opts ...cap.WorkerOpt) (cap.Node, error) {
	if server.Addr == "" {
		return nil, errors.New("invalid input: server's Address is empty")
	}

	if server.Handler != nil {
		return nil, errors.New("invalid input: server's http.Handler is already initialized")
	}

	server.Handler = s.NewHTTPHandler()

	spec := cap.NewSupervisorSpec(
		"http",
		// Node order matters, server-shutdown should execute first on
		// termination logic.
		cap.WithNodes(
			cap.NewWorker("server", func(context.Context) error {
				err := server.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}),
			cap.NewWorker("server-shutdown", func(ctx context.Context) error {
				<-ctx.Done()
				// long-polls would otherwise keep the shutdown waiting
				s.Close()
				return server.Shutdown(context.Background())
			}),
		),
	)

	return cap.Subtree(spec, opts...), nil
}
