package coordinator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/graphql-go/graphql"

	"github.com/mnohosten/collage-2pc/pkg/txn"
)

// transactionType mirrors txn.Snapshot for read-only GraphQL queries,
// grounded on the teacher's pkg/graphql Document/ObjectConfig shape.
var transactionType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "Transaction",
	Description: "A collage commit transaction tracked by the coordinator",
	Fields: graphql.Fields{
		"id": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
		},
		"filename": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
		},
		"state": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				s := p.Source.(txn.Snapshot)
				return s.State.String(), nil
			},
		},
		"participants": &graphql.Field{
			Type: graphql.NewList(graphql.String),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				s := p.Source.(txn.Snapshot)
				out := make([]string, 0, len(s.ParticipantImages))
				for addr := range s.ParticipantImages {
					out = append(out, string(addr))
				}
				return out, nil
			},
		},
		"votesReceived": &graphql.Field{
			Type: graphql.Int,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				s := p.Source.(txn.Snapshot)
				return len(s.VotesReceived), nil
			},
		},
		"ackPending": &graphql.Field{
			Type: graphql.Int,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				s := p.Source.(txn.Snapshot)
				return len(s.AckPending), nil
			},
		},
	},
})

// Schema builds the coordinator's read-only GraphQL schema: a single
// transaction and the full transactions list, both backed by c's in-memory
// table.
func (c *Coordinator) Schema() (graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"transaction": &graphql.Field{
				Type: transactionType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					snap, ok := c.GetTransaction(txn.ID(id))
					if !ok {
						return nil, nil
					}
					return snap, nil
				},
			},
			"transactions": &graphql.Field{
				Type: graphql.NewList(transactionType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return c.ListTransactions(), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

// graphQLHandler serves POST /graphql, matching the teacher's
// pkg/graphql.Handler request/response shape.
type graphQLHandler struct {
	schema graphql.Schema
}

type graphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func (h *graphQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "GraphQL only accepts POST requests", http.StatusMethodNotAllowed)
		return
	}
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// RegisterGraphQLRoute mounts POST /graphql onto r.
func (c *Coordinator) RegisterGraphQLRoute(r chi.Router) error {
	schema, err := c.Schema()
	if err != nil {
		return err
	}
	h := &graphQLHandler{schema: schema}
	r.Post("/graphql", h.ServeHTTP)
	return nil
}
