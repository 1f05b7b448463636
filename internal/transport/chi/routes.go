package chi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerInterface is the set of HTTP operations exposed by the cache.
type ServerInterface interface {
	// (POST /v1/cache/lookup)
	Lookup(w http.ResponseWriter, r *http.Request)
	// (POST /v1/cache/search)
	Search(w http.ResponseWriter, r *http.Request)
	// (PUT /v1/items/{id})
	PutItem(w http.ResponseWriter, r *http.Request, id string)
	// (GET /v1/items/{id})
	GetItem(w http.ResponseWriter, r *http.Request, id string, params GetItemParams)
	// (POST /v1/items/batch)
	BatchPut(w http.ResponseWriter, r *http.Request)
	// (GET /v1/index)
	GetIndex(w http.ResponseWriter, r *http.Request)
	// (GET /health)
	HealthCheck(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError reports a path or query parameter that failed to bind.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// wrapper binds parameters before dispatching to the ServerInterface.
type wrapper struct {
	handler      ServerInterface
	errorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

func (w *wrapper) putItem(rw http.ResponseWriter, r *http.Request) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		w.errorHandler(rw, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}
	w.handler.PutItem(rw, r, id)
}

func (w *wrapper) getItem(rw http.ResponseWriter, r *http.Request) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		w.errorHandler(rw, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}

	var params GetItemParams
	err = runtime.BindQueryParameter("form", true, false, "include_embedding", r.URL.Query(), &params.IncludeEmbedding)
	if err != nil {
		w.errorHandler(rw, r, &InvalidParamFormatError{ParamName: "include_embedding", Err: err})
		return
	}
	w.handler.GetItem(rw, r, id, params)
}

// HandlerWithOptions mounts every route of si on router.
func HandlerWithOptions(si ServerInterface, router chi.Router,
	errorHandler func(w http.ResponseWriter, r *http.Request, err error),
) http.Handler {
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, err.Error())
		}
	}
	wr := &wrapper{handler: si, errorHandler: errorHandler}

	router.Post("/v1/cache/lookup", si.Lookup)
	router.Post("/v1/cache/search", si.Search)
	router.Post("/v1/items/batch", si.BatchPut)
	router.Put("/v1/items/{id}", wr.putItem)
	router.Get("/v1/items/{id}", wr.getItem)
	router.Get("/v1/index", si.GetIndex)
	router.Get("/health", si.HealthCheck)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return router
}
