package subgraph

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/n9te9/kinabalu/auth"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type handler struct {
	schema *Schema
}

var _ http.Handler = (*handler)(nil)

// NewHandler serves schema over HTTP POST. The caller identity is read from the
// propagation header and installed in the request context before any resolver runs.
func NewHandler(schema *Schema) http.Handler {
	return &handler{schema: schema}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &Response{
			Errors: gqlerror.List{withCode(gqlerror.Errorf("invalid request body: %s", err), CodeBadUserInput)},
		})
		return
	}

	ctx := auth.BuildContext(r.Context(), r.Header)
	writeJSON(w, http.StatusOK, h.schema.Execute(ctx, req))
}

func writeJSON(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger().Error("write response failed", "operation", "write_response", "outcome", "failure", "error", err.Error())
	}
}
