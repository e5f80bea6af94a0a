package adminapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"moduforge.dev/moduforge/internal/history"
	apperrors "moduforge.dev/moduforge/internal/pkg/errors"
	"moduforge.dev/moduforge/internal/runtime"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

// Runtime is what the admin surface needs from a ModuForge runtime; the
// async runtime satisfies it directly.
type Runtime interface {
	CurrentState() *state.State
	Tr() *transaction.Transaction
	DispatchFlow(ctx context.Context, tr *transaction.Transaction) error
	Undo() *state.State
	Redo() *state.State
	History() *history.Manager
}

// Server bundles the handlers over one runtime.
type Server struct {
	rt Runtime
}

// NewServer constructs the handler set.
func NewServer(rt Runtime) *Server {
	return &Server{rt: rt}
}

// NewRouter assembles the gin engine: request id, error handling, OpenAPI
// request validation, and JWT auth on the mutating routes.
func NewRouter(s *Server, jwtSecret string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(ErrorHandler())

	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	engine.Use(validator)

	engine.GET("/healthz", s.handleHealth)

	v1 := engine.Group("/v1")
	v1.GET("/state", s.handleState)
	v1.GET("/history", s.handleHistory)

	mutating := v1.Group("")
	mutating.Use(JWTAuth(jwtSecret))
	mutating.POST("/dispatch", s.handleDispatch)
	mutating.POST("/undo", s.handleUndo)
	mutating.POST("/redo", s.handleRedo)

	return engine, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleState(c *gin.Context) {
	st := s.rt.CurrentState()
	c.JSON(http.StatusOK, gin.H{
		"version":    st.Version(),
		"doc_size":   st.Doc().Size(),
		"root_id":    st.Doc().Root().String(),
		"field_keys": st.FieldKeys(),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	past, future := s.rt.History().Depths()
	c.JSON(http.StatusOK, gin.H{
		"undo_depth": past,
		"redo_depth": future,
	})
}

// dispatchRequest is the JSON shape of POST /v1/dispatch, already
// shape-checked by the OpenAPI validator.
type dispatchRequest struct {
	Steps []step.WireStep        `json:"steps"`
	Meta  map[string]interface{} `json:"meta"`
}

func (s *Server) handleDispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, err.Error()))
		return
	}

	tr := s.rt.Tr()
	for _, wire := range req.Steps {
		st, err := step.FromWire(wire)
		if err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, err.Error()))
			return
		}
		if err := tr.AddStep(st); err != nil {
			_ = c.Error(apperrors.Wrap(err, apperrors.CodeStepFailed,
				"step rejected", http.StatusUnprocessableEntity))
			return
		}
	}
	for k, v := range req.Meta {
		tr.SetMeta(k, v)
	}

	err := s.rt.DispatchFlow(c.Request.Context(), tr)
	if key, filtered := state.IsFilteredOut(err); filtered {
		c.JSON(http.StatusAccepted, gin.H{
			"code":       apperrors.CodeFilteredOut,
			"plugin_key": key,
		})
		return
	}
	var re *runtime.Error
	if errors.As(err, &re) && re.Kind == runtime.BackpressureRejected {
		_ = c.Error(apperrors.ErrBackpressuref())
		return
	}
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStepFailed,
			"dispatch rejected", http.StatusUnprocessableEntity))
		return
	}

	st := s.rt.CurrentState()
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": tr.ID().String(),
		"version":        st.Version(),
	})
}

func (s *Server) handleUndo(c *gin.Context) {
	st := s.rt.Undo()
	if st == nil {
		c.JSON(http.StatusConflict, gin.H{"code": "NOTHING_TO_UNDO", "message": "undo stack is empty"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": st.Version()})
}

func (s *Server) handleRedo(c *gin.Context) {
	st := s.rt.Redo()
	if st == nil {
		c.JSON(http.StatusConflict, gin.H{"code": "NOTHING_TO_REDO", "message": "redo stack is empty"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": st.Version()})
}
