package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pkg/logger"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/runtime"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

func init() {
	_ = logger.Init("error", "json")
}

// syncFlow adapts the synchronous runtime to the async-flavored Runtime
// interface the server consumes.
type syncFlow struct {
	*runtime.ForgeRuntime
}

func (s syncFlow) DispatchFlow(ctx context.Context, tr *transaction.Transaction) error {
	return s.Dispatch(ctx, tr)
}

func newTestServer(t *testing.T, jwtSecret string) (*httptest.Server, *runtime.ForgeRuntime, model.NodeID) {
	t.Helper()
	spec := model.SchemaSpec{
		TopNode: "doc",
		Nodes: map[string]model.NodeSpec{
			"doc":       {Content: "paragraph*"},
			"paragraph": {Content: ""},
		},
	}
	schema, err := model.CompileSchema(spec)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := state.NewConfiguration(schema, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := state.Create(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt := runtime.New(s, runtime.Options{})

	router, err := NewRouter(NewServer(syncFlow{rt}), jwtSecret)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, rt, s.Doc().Root()
}

func dispatchBody(t *testing.T, root model.NodeID) []byte {
	t.Helper()
	para := model.NewNode("paragraph", nil, nil, nil)
	wire, err := step.ToWire(step.AddNode{Parent: root, Position: 0, Subtree: pool.NewLeafSubtree(para)})
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]interface{}{
		"steps": []step.WireStep{wire},
		"meta":  map[string]interface{}{"description": "insert paragraph"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestStateEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/v1/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/state = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Version uint64 `json:"version"`
		DocSize int    `json:"doc_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Version != 0 || out.DocSize != 1 {
		t.Fatalf("state = %+v, want version 0, doc_size 1", out)
	}
}

func TestDispatchEndToEnd(t *testing.T) {
	srv, rt, root := newTestServer(t, "")
	resp, err := http.Post(srv.URL+"/v1/dispatch", "application/json", bytes.NewReader(dispatchBody(t, root)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/dispatch = %d, want 200", resp.StatusCode)
	}
	if rt.CurrentState().Version() != 1 {
		t.Fatalf("version = %d, want 1", rt.CurrentState().Version())
	}
}

func TestDispatchRejectsMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	// "steps" is required by the OpenAPI document.
	resp, err := http.Post(srv.URL+"/v1/dispatch", "application/json", bytes.NewReader([]byte(`{"meta":{}}`)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /v1/dispatch without steps = %d, want 400", resp.StatusCode)
	}
}

func TestDispatchRequiresTokenWhenSecretSet(t *testing.T) {
	srv, _, root := newTestServer(t, "test-secret-test-secret-test-secr")

	resp, err := http.Post(srv.URL+"/v1/dispatch", "application/json", bytes.NewReader(dispatchBody(t, root)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated dispatch = %d, want 401", resp.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret-test-secret-test-secr"))
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/dispatch", bytes.NewReader(dispatchBody(t, root)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", signed))
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("authenticated dispatch = %d, want 200", authed.StatusCode)
	}
}

func TestUndoRedoEndpoints(t *testing.T) {
	srv, rt, root := newTestServer(t, "")
	if resp, err := http.Post(srv.URL+"/v1/dispatch", "application/json", bytes.NewReader(dispatchBody(t, root))); err != nil {
		t.Fatal(err)
	} else {
		resp.Body.Close()
	}

	resp, err := http.Post(srv.URL+"/v1/undo", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/undo = %d, want 200", resp.StatusCode)
	}
	if rt.CurrentState().Version() != 0 {
		t.Fatalf("version after undo = %d, want 0", rt.CurrentState().Version())
	}

	resp, err = http.Post(srv.URL+"/v1/redo", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/redo = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/undo", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp, err = http.Post(srv.URL+"/v1/undo", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("POST /v1/undo on empty stack = %d, want 409", resp.StatusCode)
	}
}
