package streams

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams/window"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/tryfix/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Err struct {
	Err string `json:"error"`
}

type keyVal struct {
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
}

type handler struct {
	pipeline *Pipeline
	logger   log.Logger
}

func (h *handler) write(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(`Content-Type`, `application/json`)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(fmt.Sprintf(`Response encode failed due to %s`, err))
	}
}

func (h *handler) writeErr(w http.ResponseWriter, status int, err error) {
	h.write(w, status, Err{Err: err.Error()})
}

func (h *handler) stores(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, []string{h.pipeline.table.Name(), `windows`})
}

func (h *handler) tableAll(w http.ResponseWriter, r *http.Request) {
	var keyVals []keyVal
	err := h.pipeline.table.Iterate(r.Context(), func(key, value interface{}) bool {
		keyVals = append(keyVals, keyVal{Key: key, Value: value})
		return true
	})
	if err != nil {
		h.writeErr(w, http.StatusInternalServerError, err)
		return
	}

	h.write(w, http.StatusOK, keyVals)
}

func (h *handler) tableItem(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)[`key`]
	decoded, err := h.pipeline.config.Encoders.TableKey.Decode([]byte(key))
	if err != nil {
		h.writeErr(w, http.StatusBadRequest, err)
		return
	}

	v, err := h.pipeline.table.Get(r.Context(), decoded)
	if err != nil {
		h.writeErr(w, http.StatusInternalServerError, err)
		return
	}

	if v == nil {
		h.writeErr(w, http.StatusNotFound, errors.Errorf(`key [%s] does not exist`, key))
		return
	}

	h.write(w, http.StatusOK, keyVal{Key: key, Value: v})
}

func (h *handler) windowsAll(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, h.pipeline.windows.All())
}

func (h *handler) windowsByKey(w http.ResponseWriter, r *http.Request) {
	aggs := h.pipeline.windows.Fetch(mux.Vars(r)[`key`])
	if aggs == nil {
		aggs = []window.Aggregate{}
	}

	sort.Slice(aggs, func(i, j int) bool { return aggs[i].Start < aggs[j].Start })
	h.write(w, http.StatusOK, aggs)
}

func (h *handler) ready(w http.ResponseWriter, _ *http.Request) {
	if !h.pipeline.table.Ready() {
		h.write(w, http.StatusServiceUnavailable, map[string]bool{`ready`: false})
		return
	}

	h.write(w, http.StatusOK, map[string]bool{`ready`: true})
}

func (h *handler) topology(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get(`format`) == `dot` {
		dot, err := h.pipeline.Visualize()
		if err != nil {
			h.writeErr(w, http.StatusInternalServerError, err)
			return
		}

		w.Header().Set(`Content-Type`, `text/vnd.graphviz`)
		_, _ = w.Write([]byte(dot))
		return
	}

	w.Header().Set(`Content-Type`, `text/plain`)
	_, _ = w.Write([]byte(h.pipeline.Describe()))
}

// Handler returns the query endpoints of the pipeline state.
func (p *Pipeline) Handler() http.Handler {
	h := &handler{
		pipeline: p,
		logger:   p.logger.NewLog(log.Prefixed(`Http`)),
	}

	r := mux.NewRouter()
	r.HandleFunc(`/stores`, h.stores).Methods(http.MethodGet)
	r.HandleFunc(`/stores/table`, h.tableAll).Methods(http.MethodGet)
	r.HandleFunc(`/stores/table/{key}`, h.tableItem).Methods(http.MethodGet)
	r.HandleFunc(`/stores/windows`, h.windowsAll).Methods(http.MethodGet)
	r.HandleFunc(`/stores/windows/{key}`, h.windowsByKey).Methods(http.MethodGet)
	r.HandleFunc(`/ready`, h.ready).Methods(http.MethodGet)
	r.HandleFunc(`/topology`, h.topology).Methods(http.MethodGet)

	return handlers.CORS()(r)
}

func (p *Pipeline) startHttp(host string) *http.Server {
	srv := &http.Server{Addr: host, Handler: p.Handler()}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error(fmt.Sprintf(`Cannot start web server : %+v`, err))
		}
	}()

	p.logger.Info(fmt.Sprintf(`Http server started on %s`, host))

	return srv
}
