package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"Guardrail/internal/domain/models"
	domrepo "Guardrail/internal/domain/repository"
	"Guardrail/internal/repository"
	"Guardrail/internal/service/notify"
	"Guardrail/internal/services/integrity"
	"Guardrail/internal/services/killledger"
	"Guardrail/internal/services/policy"
	"Guardrail/internal/services/staleness"
	"Guardrail/internal/usecase"
	xhttp "Guardrail/pkg/http"
	xlogger "Guardrail/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GovernanceEchoHandler exposes integrity, staleness, gate and kill ledger
// operations over HTTP.
type GovernanceEchoHandler struct {
	logger   *xlogger.Logger
	monitor  *usecase.IntegrityMonitor
	auth     *usecase.Authorizer
	gate     *staleness.Gate
	ledger   *killledger.Ledger
	provider domrepo.MarketStateProvider
	scanOpts []policy.ScannerOption
	notifier domrepo.Notifier
	hub      *notify.Hub
	writeMW  []echo.MiddlewareFunc
}

// GovernanceDeps groups the handler's collaborators. Provider, Notifier,
// Hub and WriteLimit may be nil. WriteLimit guards every route that can
// append to the kill ledger.
type GovernanceDeps struct {
	Monitor     *usecase.IntegrityMonitor
	Authorizer  *usecase.Authorizer
	Gate        *staleness.Gate
	Ledger      *killledger.Ledger
	Provider    domrepo.MarketStateProvider
	ScanOptions []policy.ScannerOption
	Notifier    domrepo.Notifier
	Hub         *notify.Hub
	WriteLimit  echo.MiddlewareFunc
}

func NewGovernanceEchoHandler(logger *xlogger.Logger, d GovernanceDeps) *GovernanceEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	var writeMW []echo.MiddlewareFunc
	if d.WriteLimit != nil {
		writeMW = append(writeMW, d.WriteLimit)
	}
	return &GovernanceEchoHandler{
		logger:   logger,
		monitor:  d.Monitor,
		auth:     d.Authorizer,
		gate:     d.Gate,
		ledger:   d.Ledger,
		provider: d.Provider,
		scanOpts: d.ScanOptions,
		notifier: d.Notifier,
		hub:      d.Hub,
		writeMW:  writeMW,
	}
}

func (h *GovernanceEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	// verify feeds the health window and can append a symbol kill
	g.POST("/integrity/verify", h.Verify, h.writeMW...)
	g.GET("/integrity/:symbol", h.IntegrityReport)

	g.POST("/anchors", h.CreateAnchor)
	g.POST("/anchors/check", h.CheckAnchor)
	g.POST("/anchors/refresh", h.RefreshAnchor)
	g.GET("/anchors/:hash", h.AnchorState)

	g.POST("/actions/authorize", h.Authorize)
	g.POST("/scan", h.Scan)

	g.GET("/kills", h.KillHistory)
	g.GET("/kills/active", h.ActiveKills)
	g.GET("/kills/verify", h.VerifyLedger)
	g.POST("/kills", h.CreateKill, h.writeMW...)
	g.POST("/kills/release", h.ReleaseKill, h.writeMW...)

	if h.hub != nil {
		e.GET("/ws/kills", h.KillStream)
	}
}

// GateView is one gate outcome rendered from a bit vector.
type GateView = models.GateResult

// TargetView is one scan target with its gate outcomes in ruleset order.
type TargetView struct {
	Target string     `json:"target"`
	Gates  []GateView `json:"gates"`
}

type checkView struct {
	models.StaleCheckResult
	TTLRemainingSeconds int64 `json:"ttl_remaining_seconds"`
}

type decisionView struct {
	usecase.Decision
	Gates []GateView `json:"gates,omitempty"`
}

type anchorView struct {
	Anchor    models.StateAnchor       `json:"anchor"`
	Integrity *usecase.IntegrityReport `json:"integrity,omitempty"`
}

func (h *GovernanceEchoHandler) Verify(c echo.Context) error {
	req := &models.VerifyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var opts []integrity.VerifyOption
	if len(req.ReferenceHashes) > 0 {
		opts = append(opts, integrity.WithReferenceHashes(req.ReferenceHashes))
	}
	rep, err := h.monitor.Evaluate(c.Request().Context(), req.Symbol, req.Bars, opts...)
	if err != nil {
		return h.fail(c, "verify", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *GovernanceEchoHandler) IntegrityReport(c echo.Context) error {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if rep, ok := h.monitor.Last(symbol); ok && c.QueryParam("refresh") != "true" {
		return xhttp.SuccessResponse(c, rep)
	}
	rep, err := h.monitor.Check(c.Request().Context(), symbol)
	if errors.Is(err, usecase.ErrNoBarStore) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no integrity report for %s", symbol))
	}
	if err != nil {
		return h.fail(c, "integrity report", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *GovernanceEchoHandler) CreateAnchor(c echo.Context) error {
	req := &models.AnchorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, rep, err := h.auth.Anchor(c.Request().Context(), *req)
	if errors.Is(err, usecase.ErrIntegrityHalt) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("integrity halt").
			WithParam("health", rep.Health).
			WithError(err))
	}
	if err != nil {
		return h.fail(c, "create anchor", err)
	}
	return xhttp.CreatedResponse(c, anchorView{Anchor: a, Integrity: rep})
}

func (h *GovernanceEchoHandler) CheckAnchor(c echo.Context) error {
	req := &models.CheckRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	var (
		res models.StaleCheckResult
		err error
	)
	if len(req.Market) > 0 {
		res, err = h.gate.CheckState(ctx, req.StateHash, req.Market, req.System, req.IsExit)
	} else {
		res, err = h.gate.Check(ctx, req.StateHash, req.IsExit)
	}
	if err != nil {
		return h.fail(c, "check anchor", err)
	}
	return xhttp.SuccessResponse(c, checkView{StaleCheckResult: res, TTLRemainingSeconds: res.TTLRemainingSeconds()})
}

func (h *GovernanceEchoHandler) RefreshAnchor(c echo.Context) error {
	req := &models.RefreshRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, err := h.gate.RefreshAnchor(c.Request().Context(), req.OldHash, req.Market, req.System)
	if err != nil {
		return h.fail(c, "refresh anchor", err)
	}
	return xhttp.CreatedResponse(c, anchorView{Anchor: a})
}

func (h *GovernanceEchoHandler) AnchorState(c echo.Context) error {
	hash := c.Param("hash")
	state, err := h.gate.State(c.Request().Context(), hash)
	if err != nil {
		return h.fail(c, "anchor state", err)
	}
	out := map[string]interface{}{"state_hash": hash, "state": state}
	if state != models.ContextMissing {
		if a, err := h.gate.Anchor(c.Request().Context(), hash); err == nil {
			out["anchor"] = a
		}
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *GovernanceEchoHandler) Authorize(c echo.Context) error {
	req := &models.ActionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	d, err := h.auth.Authorize(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "authorize", err)
	}
	return xhttp.SuccessResponse(c, decisionView{Decision: d, Gates: render(d.GateIDs, d.Vector)})
}

func (h *GovernanceEchoHandler) Scan(c echo.Context) error {
	req := &models.ScanRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	provider := h.provider
	if len(req.Markets) > 0 {
		provider = repository.StaticMarketStates(req.Markets)
	}
	if provider == nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("markets are required: no market state provider is configured"))
	}

	rules := h.auth.Rules()
	ids, err := rules.GateIDsFor(req.Drawers...)
	if err != nil {
		return h.fail(c, "scan", err)
	}
	results, err := policy.NewScanner(rules, provider, h.scanOpts...).ScanAll(c.Request().Context(), req.Targets, req.Drawers...)
	if err != nil {
		return h.fail(c, "scan", err)
	}

	out := make([]TargetView, len(results))
	for i, r := range results {
		out[i] = TargetView{Target: r.Target, Gates: render(ids, r.Vector)}
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *GovernanceEchoHandler) KillHistory(c echo.Context) error {
	all, err := h.ledger.History(c.Request().Context())
	if err != nil {
		return h.fail(c, "kill history", err)
	}
	limit, err := xhttp.QueryInt(c, "limit", 0)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	// without an offset the newest records are shown
	if c.QueryParam("offset") == "" {
		return xhttp.PageResponse(c, xhttp.Tail(all, limit))
	}
	offset, err := xhttp.QueryInt(c, "offset", 0)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.PageResponse(c, xhttp.Paginate(all, offset, limit))
}

func (h *GovernanceEchoHandler) ActiveKills(c echo.Context) error {
	at, err := xhttp.QueryTime(c, "at", time.Now())
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	active, err := h.ledger.ActiveKills(c.Request().Context(), at)
	if err != nil {
		return h.fail(c, "active kills", err)
	}
	return xhttp.PageResponse(c, xhttp.Paginate(active, 0, 0))
}

func (h *GovernanceEchoHandler) VerifyLedger(c echo.Context) error {
	if err := h.ledger.Verify(c.Request().Context()); err != nil {
		return h.fail(c, "verify ledger", err)
	}
	return xhttp.SuccessResponse(c, map[string]bool{"intact": true})
}

func (h *GovernanceEchoHandler) CreateKill(c echo.Context) error {
	req := &models.KillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	rec, err := h.ledger.Create(ctx, *req)
	if err != nil {
		return h.fail(c, "create kill", err)
	}
	h.logger.Warn("kill created via api",
		xlogger.String("scope", rec.Scope),
		xlogger.String("record_id", rec.ID),
		xlogger.String("reason", rec.Reason),
	)
	if h.notifier != nil {
		if err := h.notifier.Notify(ctx, models.KillNotification{Record: rec, Source: "api"}); err != nil {
			h.logger.Warn("kill notification failed", xlogger.String("record_id", rec.ID), xlogger.Error(err))
		}
	}
	return xhttp.CreatedResponse(c, rec)
}

func (h *GovernanceEchoHandler) ReleaseKill(c echo.Context) error {
	req := &models.ReleaseRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.ledger.Release(c.Request().Context(), req.Scope, req.Reason)
	if err != nil {
		return h.fail(c, "release kill", err)
	}
	h.logger.Info("kill released",
		xlogger.String("scope", rec.Scope),
		xlogger.String("record_id", rec.ID),
	)
	return xhttp.CreatedResponse(c, rec)
}

func (h *GovernanceEchoHandler) KillStream(c echo.Context) error {
	if err := h.hub.ServeWS(c.Response(), c.Request()); err != nil {
		// the upgrader has already written the HTTP error
		h.logger.Debug("websocket upgrade failed", xlogger.Error(err))
	}
	return nil
}

// render reads a bit vector gate by gate in ruleset order.
func render(ids []string, v policy.BitVector) []GateView {
	if len(ids) == 0 {
		return nil
	}
	out := make([]GateView, 0, len(ids))
	for _, id := range ids {
		passed, ok := v.Get(id)
		if !ok {
			continue
		}
		out = append(out, GateView{GateID: id, Passed: passed})
	}
	return out
}

// governanceErrors maps the domain sentinels the routes can surface.
var governanceErrors = xhttp.NewErrorMapper(
	xhttp.ErrorRule{Target: staleness.ErrMissingAnchor, Status: http.StatusNotFound, Code: xhttp.CodeNotFound},
	xhttp.ErrorRule{Target: killledger.ErrNotKilled, Status: http.StatusConflict, Code: xhttp.CodeConflict},
	xhttp.ErrorRule{Target: killledger.ErrInvalidRequest, Status: http.StatusBadRequest, Code: xhttp.CodeBadRequest},
	xhttp.ErrorRule{Target: policy.ErrTooManyTargets, Status: http.StatusBadRequest, Code: xhttp.CodeBadRequest},
	xhttp.ErrorRule{Target: policy.ErrNoTargets, Status: http.StatusBadRequest, Code: xhttp.CodeBadRequest},
	xhttp.ErrorRule{Target: policy.ErrUnknownDrawer, Status: http.StatusBadRequest, Code: xhttp.CodeBadRequest},
	xhttp.ErrorRule{Target: repository.ErrNoMarketState, Status: http.StatusBadRequest, Code: xhttp.CodeBadRequest},
	xhttp.ErrorRule{Target: killledger.ErrChainBroken, Status: http.StatusInternalServerError, Code: xhttp.CodeInternal, Message: "kill ledger chain broken"},
)

func (h *GovernanceEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := governanceErrors.Map(op, err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
