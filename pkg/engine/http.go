package engine

import (
	"io"
	"net/http"
)

// HeaderEdgeCache reports the class and source of a proxied response.
const HeaderEdgeCache = "X-Edge-Cache"

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServeHTTP answers r through Respond. Requests that get no response are
// answered with 502 Bad Gateway.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := e.Respond(r.Context(), r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	resp := res.Response
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Set(HeaderEdgeCache, res.Class.String()+"; source="+string(res.Source))

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		e.logger.Debug().
			Err(err).
			Str("url", r.URL.String()).
			Msg("Client went away while copying body")
	}
}
