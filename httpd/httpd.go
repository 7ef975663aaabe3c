// Package httpd exposes a read-mostly HTTP diagnostics surface over the
// camera server: camera state, attribute access, frame statistics, the
// latest streamed image and host-side frame telemetry.
package httpd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/kbg/sjcam/pv"
	"github.com/kbg/sjcam/sjcserver"
)

// attrPayload is the JSON shape for attribute values, keyed by type the way
// the value is typed on the camera.
type attrPayload struct {
	Str  *string  `json:"str,omitempty"`
	Int  *int64   `json:"int,omitempty"`
	F64  *float64 `json:"f64,omitempty"`
	Bool *bool    `json:"bool,omitempty"`
}

func attrToPayload(v pv.Value) attrPayload {
	var p attrPayload
	if s, ok := v.Str(); ok {
		p.Str = &s
		return p
	}
	if u, ok := v.Uint32(); ok {
		i := int64(u)
		p.Int = &i
		return p
	}
	if i, ok := v.Int64(); ok {
		p.Int = &i
		return p
	}
	if f, ok := v.Float32(); ok {
		f64 := float64(f)
		p.F64 = &f64
		return p
	}
	if b, ok := v.Bool(); ok {
		p.Bool = &b
	}
	return p
}

// text renders the payload for the camera's text attribute interface.
func (p attrPayload) text() (string, error) {
	switch {
	case p.Str != nil:
		return *p.Str, nil
	case p.Int != nil:
		return strconv.FormatInt(*p.Int, 10), nil
	case p.F64 != nil:
		return strconv.FormatFloat(*p.F64, 'f', -1, 32), nil
	case p.Bool != nil:
		return strconv.FormatBool(*p.Bool), nil
	}
	return "", fmt.Errorf("payload carries no value")
}

// NewRouter builds the diagnostics router over the given server.
func NewRouter(s *sjcserver.Server) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/camerastate", func(w http.ResponseWriter, req *http.Request) {
		state := "closed"
		if s.Recorder().IsCameraOpen() {
			state = "opened"
			if s.Recorder().IsRunning() {
				state = "capturing"
			}
		}
		respondJSON(w, attrPayload{Str: &state})
	})

	r.Get("/attr/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		v, err := s.Recorder().Attribute(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, attrToPayload(v))
	})

	r.Post("/attr/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		var p attrPayload
		err := json.NewDecoder(req.Body).Decode(&p)
		defer req.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		text, err := p.text()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.Recorder().SetAttribute(name, text); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/framestats", func(w http.ResponseWriter, req *http.Request) {
		st, err := s.Recorder().FrameStats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, st)
	})

	r.Get("/frame/latest.jpg", func(w http.ResponseWriter, req *http.Request) {
		data := s.Streamer().LatestJPEG()
		if data == nil {
			http.Error(w, "no image rendered yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(data)
	})

	r.Get("/telemetry", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, s.Telemetry().Snapshot())
	})

	return r
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}
