package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/rolecall/pkg/script"
)

// speakerInfo is a speaker label with its display colour.
type speakerInfo struct {
	Name  string       `json:"name"`
	Color script.Color `json:"color"`
}

// scriptInfo is the catalogue entry of a script.
type scriptInfo struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Level    string        `json:"level,omitempty"`
	Locale   string        `json:"locale,omitempty"`
	Turns    int           `json:"turns"`
	Speakers []speakerInfo `json:"speakers"`
}

// scriptDetail is a full script with its speakers' colours.
type scriptDetail struct {
	*script.Script
	Speakers []speakerInfo `json:"speakers"`
}

func speakersOf(sc *script.Script) []speakerInfo {
	names := sc.Speakers()
	out := make([]speakerInfo, len(names))
	for i, n := range names {
		out[i] = speakerInfo{Name: n, Color: script.ColorOf(n)}
	}
	return out
}

func (g *Gateway) listScripts(w http.ResponseWriter, _ *http.Request) {
	list := g.scripts.List()
	out := make([]scriptInfo, len(list))
	for i, sc := range list {
		out[i] = scriptInfo{
			ID:       sc.ID,
			Title:    sc.Title,
			Level:    sc.Level,
			Locale:   sc.Locale,
			Turns:    sc.Len(),
			Speakers: speakersOf(sc),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) getScript(w http.ResponseWriter, r *http.Request) {
	sc, err := g.scripts.Get(r.PathValue("id"))
	if errors.Is(err, script.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, scriptDetail{Script: sc, Speakers: speakersOf(sc)})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
