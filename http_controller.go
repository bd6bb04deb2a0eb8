package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/goliatone/go-router"
)

// MagicLinkRequester issues magic links.
type MagicLinkRequester interface {
	Request(ctx context.Context, email string) (*IssuedLink, error)
}

// TokenChecker verifies magic tokens.
type TokenChecker interface {
	Verify(ctx context.Context, token string) (Verification, error)
}

// AccountsController exposes the administrative account routes.
type AccountsController struct {
	Logger   Logger
	Machine  AccountStateMachine
	Assigner PermissionAssigner
	Accounts Accounts
}

type AccountsControllerOption func(*AccountsController) *AccountsController

func WithAccountsControllerLogger(logger Logger) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func NewAccountsController(repo RepositoryManager, machine AccountStateMachine, assigner PermissionAssigner, opts ...AccountsControllerOption) *AccountsController {
	c := &AccountsController{
		Logger:   defLogger{},
		Machine:  machine,
		Assigner: assigner,
	}

	if repo != nil {
		c.Accounts = repo.Accounts()
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Machine == nil {
		panic("Missing AccountStateMachine in accounts controller...")
	}

	if c.Assigner == nil {
		panic("Missing PermissionAssigner in accounts controller...")
	}

	return c
}

// RegisterRoutes registers the account routes on group, wrapped by mw.
func (c *AccountsController) RegisterRoutes(group RouteRegistrar, mw ...router.MiddlewareFunc) {
	if c.Accounts != nil {
		group.Get("/accounts", c.List, mw...)
	}
	group.Patch("/accounts/:id/blocked", c.SetBlocked, mw...)
	group.Patch("/accounts/:id/active", c.SetActive, mw...)
	group.Get("/accounts/:id/permissions", c.GetPermissions, mw...)
	group.Put("/accounts/:id/permissions", c.SetPermissions, mw...)
	group.Delete("/accounts/:id", c.Delete, mw...)
}

// List returns accounts filtered by the q, blocked and active query params.
func (c *AccountsController) List(ctx router.Context) error {
	criteria := ListAccountsCriteria{
		Search: ctx.Query("q"),
		Limit:  atoiOr(ctx.Query("limit"), 50),
		Offset: atoiOr(ctx.Query("offset"), 0),
	}
	if v, err := strconv.ParseBool(ctx.Query("blocked")); err == nil {
		criteria.Blocked = &v
	}
	if v, err := strconv.ParseBool(ctx.Query("active")); err == nil {
		criteria.Active = &v
	}

	accounts, total, err := c.Accounts.List(ctx.Context(), criteria)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"cuentas": accounts,
		"total":   total,
	})
}

// SetBlocked handles PATCH /accounts/:id/blocked
func (c *AccountsController) SetBlocked(ctx router.Context) error {
	id, err := accountIDParam(ctx)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	payload := new(BlockRequest)
	if err := ctx.Bind(payload); err != nil {
		return errorResponse(ctx, c.Logger, validationError(err))
	}

	if err := payload.Validate(); err != nil {
		return errorResponse(ctx, c.Logger, validationError(err))
	}

	state, err := c.Machine.SetBlocked(ctx.Context(), actorFrom(ctx), id, *payload.Bloqueado, payload.GetReason())
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	estado := map[string]any{
		"bloqueado": state.Blocked,
		"razon":     nil,
	}
	if state.Reason != "" {
		estado["razon"] = state.Reason
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"estado":  estado,
	})
}

// SetActive handles PATCH /accounts/:id/active
func (c *AccountsController) SetActive(ctx router.Context) error {
	id, err := accountIDParam(ctx)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	payload := new(ActiveRequest)
	if err := ctx.Bind(payload); err != nil {
		return errorResponse(ctx, c.Logger, validationError(err))
	}

	if err := payload.Validate(); err != nil {
		return errorResponse(ctx, c.Logger, validationError(err))
	}

	state, err := c.Machine.SetActive(ctx.Context(), actorFrom(ctx), id, *payload.Activo)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"estado": map[string]any{
			"activo":    state.Active,
			"bloqueado": state.Blocked,
		},
	})
}

// GetPermissions handles GET /accounts/:id/permissions
func (c *AccountsController) GetPermissions(ctx router.Context) error {
	id, err := accountIDParam(ctx)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	assignment, err := c.Assigner.GetPermissions(ctx.Context(), id)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":             true,
		"permisos":            assignment.Assigned,
		"permisosDisponibles": assignment.Catalog,
	})
}

// SetPermissions handles PUT /accounts/:id/permissions
func (c *AccountsController) SetPermissions(ctx router.Context) error {
	id, err := accountIDParam(ctx)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	payload := new(PermissionsRequest)
	if err := ctx.Bind(payload); err != nil {
		return errorResponse(ctx, c.Logger, validationError(err))
	}

	if err := payload.Validate(); err != nil {
		return errorResponse(ctx, c.Logger, validationError(err))
	}

	perms, err := c.Assigner.SetPermissions(ctx.Context(), actorFrom(ctx), id, payload.Permisos)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":  true,
		"permisos": perms,
	})
}

// Delete handles DELETE /accounts/:id
func (c *AccountsController) Delete(ctx router.Context) error {
	id, err := accountIDParam(ctx)
	if err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	if err := c.Machine.Delete(ctx.Context(), actorFrom(ctx), id); err != nil {
		return errorResponse(ctx, c.Logger, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// MagicLinkController exposes the passwordless login routes.
type MagicLinkController struct {
	Logger        Logger
	Links         MagicLinkRequester
	Verifier      TokenChecker
	AdminRedirect string
	UserRedirect  string
	LoginRedirect string
}

// NewMagicLinkController wires the controller redirects from cfg.
func NewMagicLinkController(links MagicLinkRequester, verifier TokenChecker, cfg Config, logger Logger) *MagicLinkController {
	c := &MagicLinkController{
		Logger:        normalizeLogger(logger),
		Links:         links,
		Verifier:      verifier,
		AdminRedirect: "/admin",
		UserRedirect:  "/",
		LoginRedirect: "/login",
	}

	if cfg != nil {
		if v := cfg.GetAdminRedirect(); v != "" {
			c.AdminRedirect = v
		}
		if v := cfg.GetUserRedirect(); v != "" {
			c.UserRedirect = v
		}
		if v := cfg.GetLoginRedirect(); v != "" {
			c.LoginRedirect = v
		}
	}

	return c
}

// RegisterRoutes registers the magic link routes.
func (c *MagicLinkController) RegisterRoutes(group RouteRegistrar, verifyPath string) {
	if verifyPath == "" {
		verifyPath = defaultVerifyPath
	}
	group.Post("/auth/magic-link", c.Request)
	group.Get(verifyPath, c.Verify)
}

// Request handles POST /auth/magic-link. The answer is the same whether or
// not a link was sent so the endpoint cannot be used to probe accounts.
func (c *MagicLinkController) Request(ctx router.Context) error {
	payload := new(MagicLinkRequest)
	if err := ctx.Bind(payload); err != nil {
		return errorResponse(ctx, c.Logger, validationError(err))
	}

	if err := payload.Validate(); err != nil {
		return errorResponse(ctx, c.Logger, validationError(err))
	}

	if _, err := c.Links.Request(ctx.Context(), payload.Email); err != nil {
		switch {
		case IsNotFound(err), IsForbidden(err):
			c.Logger.Info("magic link withheld: %s", TextCode(err))
		default:
			return errorResponse(ctx, c.Logger, err)
		}
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"message": "If the address belongs to an active account a sign-in link is on its way",
	})
}

// Verify handles GET /auth/verify?token=...
func (c *MagicLinkController) Verify(ctx router.Context) error {
	token := strings.TrimSpace(ctx.Query("token"))

	result, err := c.Verifier.Verify(ctx.Context(), token)
	if err != nil {
		code := TextCode(err)
		if code == "" {
			code = TextCodeInternal
		}
		c.Logger.Info("magic token verification failed: %s", code)
		return ctx.Redirect(appendQueryParam(c.LoginRedirect, "error", code), http.StatusFound)
	}

	target := c.UserRedirect
	if result.Route == RouteAdmin {
		target = c.AdminRedirect
	}

	return ctx.Redirect(target, http.StatusFound)
}

func accountIDParam(ctx router.Context) (int64, error) {
	raw := strings.TrimSpace(ctx.Param("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrValidation.Clone().WithMetadata(map[string]any{
			"id": "must be a positive integer",
		})
	}
	return id, nil
}

func atoiOr(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && v >= 0 {
		return v
	}
	return def
}
