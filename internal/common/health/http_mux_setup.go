package health

import (
	"net/http"
)

const Path = "/health"

// SetupHttpMux registers the health endpoint on mux.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle(Path, NewHealthCheckHttpHandler(checker))
}
