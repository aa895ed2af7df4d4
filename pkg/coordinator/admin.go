package coordinator

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnohosten/collage-2pc/pkg/txn"
)

// commitRequest is the body POST /commits expects: a composite filename,
// its base64-free raw bytes are not accepted over JSON, so ImageBase64
// carries them, plus the "<participant>:<filename>" source references.
type commitRequest struct {
	Filename    string   `json:"filename"`
	ImageBase64 string   `json:"image_base64"`
	Sources     []string `json:"sources"`
}

// RegisterAdminRoutes mounts the coordinator's HTTP surface onto r:
// POST /commits starts a new transaction; GET /transactions,
// GET /transactions/{id} and GET /metrics are read-only and cannot affect
// protocol state — they only read the same in-memory table the protocol
// handlers mutate.
func (c *Coordinator) RegisterAdminRoutes(r chi.Router) {
	r.Post("/commits", func(w http.ResponseWriter, req *http.Request) {
		var body commitRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		imageBytes, err := base64.StdEncoding.DecodeString(body.ImageBase64)
		if err != nil {
			http.Error(w, "image_base64 is not valid base64", http.StatusBadRequest)
			return
		}
		id := c.StartCommit(body.Filename, imageBytes, body.Sources)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(struct {
			ID string `json:"id"`
		}{ID: string(id)})
	})

	r.Get("/transactions", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.ListTransactions())
	})

	r.Get("/transactions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := txn.ID(chi.URLParam(req, "id"))
		snap, ok := c.GetTransaction(id)
		if !ok {
			http.Error(w, "transaction not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = c.metrics.WriteProm(w)
	})
}
