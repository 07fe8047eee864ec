package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-analyzer/internal/audit"
	"github.com/insightdelivered/statement-analyzer/internal/ingest"
	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/storage"
)

const (
	version = "2.0.0"
	// maxUpload is the multipart body limit (32MB).
	maxUpload = 32 << 20
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// AuditResponse is the JSON response from the statement audit endpoint.
type AuditResponse struct {
	Success   bool                    `json:"success"`
	Statement *models.Statement       `json:"statement"`
	Summary   *models.AnalysisSummary `json:"summary,omitempty"`
	Report    audit.Report            `json:"report"`
}

// EditRequest is the body of PATCH /api/transactions/:id.
type EditRequest struct {
	Category       string  `json:"category"`
	CustomCategory string  `json:"custom_category"`
	Label          *string `json:"label"`
	Editor         string  `json:"editor"`
}

// Handler holds the HTTP handlers for the API.
type Handler struct {
	Store  *storage.Store
	Ingest *ingest.Service
	Log    zerolog.Logger
	// Counterparty overrides the audit counterparty key.
	Counterparty audit.CounterpartyKey
}

// NewApp builds the fiber app with every route registered.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "statement-analyzer",
		BodyLimit:             maxUpload,
		DisableStartupMessage: true,
		ErrorHandler:          h.handleError,
	})
	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		ctx, _ := logger.WithFields(logger.WithContext(c.UserContext(), h.Log), map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
		c.SetUserContext(ctx)
		return c.Next()
	})
	h.RegisterRoutes(app)
	return app
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/health", HandleHealth)
	api.Post("/accounts/:id/statements", h.HandleUpload)
	api.Post("/accounts/:id/reapply", h.HandleReapply)
	api.Get("/statements/:id/audit", h.HandleAudit)
	api.Patch("/transactions/:id", h.HandleEdit)
}

func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"engine":  "fiber",
		"version": version,
	})
}

// HandleUpload stores the multipart "file" field and ingests it into the
// account. The optional "kind" field declares the file kind.
func (h *Handler) HandleUpload(c *fiber.Ctx) error {
	accountID, err := idParam(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No file uploaded. Use form field 'file'.")
	}
	var kind models.FileKind
	if v := c.FormValue("kind"); v != "" {
		if kind, err = models.ParseFileKind(v); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	tmp, err := os.CreateTemp("", "statement-*"+strings.ToLower(filepath.Ext(fh.Filename)))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())
	if err := c.SaveFile(fh, tmp.Name()); err != nil {
		return fmt.Errorf("failed to save uploaded file: %w", err)
	}

	report, err := h.Ingest.Ingest(c.UserContext(), ingest.Request{
		AccountID: accountID,
		Path:      tmp.Name(),
		Kind:      kind,
		Filename:  filepath.Base(fh.Filename),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "report": report})
}

// HandleReapply re-classifies every transaction of the account for its
// owner.
func (h *Handler) HandleReapply(c *fiber.Ctx) error {
	accountID, err := idParam(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	account, err := h.Store.Account(ctx, accountID)
	if err != nil {
		return err
	}
	report, err := h.Ingest.Reapply(ctx, account.UserID, accountID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "report": report})
}

// HandleAudit summarises one statement. ?counterparty=upi groups UPI
// payments by payee.
func (h *Handler) HandleAudit(c *fiber.Ctx) error {
	statementID, err := idParam(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	stmt, err := h.Store.Statement(ctx, statementID)
	if err != nil {
		return err
	}
	txs, err := h.Store.StatementTransactions(ctx, statementID)
	if err != nil {
		return err
	}

	opts := audit.Options{Counterparty: h.Counterparty}
	switch c.Query("counterparty") {
	case "":
	case "upi":
		opts.Counterparty = audit.UPIKey
	case "prefix":
		opts.Counterparty = audit.PrefixKey
	default:
		return fiber.NewError(fiber.StatusBadRequest, "counterparty must be upi or prefix")
	}

	resp := AuditResponse{Success: true, Statement: stmt, Report: audit.Summarize(txs, opts)}
	if sum, err := h.Store.Summary(ctx, statementID); err == nil {
		resp.Summary = sum
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return c.JSON(resp)
}

// HandleEdit applies a manual edit to one transaction.
func (h *Handler) HandleEdit(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req EditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}

	edit := storage.Edit{CustomCategory: req.CustomCategory, Label: req.Label, Editor: req.Editor}
	if req.Category != "" {
		if edit.Category, err = models.ParseCategory(req.Category); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	if edit.Category == "" && edit.CustomCategory == "" && edit.Label == nil {
		return fiber.NewError(fiber.StatusBadRequest, "nothing to change")
	}
	if edit.Category != "" && edit.CustomCategory != "" {
		return fiber.NewError(fiber.StatusBadRequest, "set either category or custom_category, not both")
	}
	if strings.TrimSpace(edit.Editor) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "editor is required")
	}

	tx, err := h.Store.EditTransaction(c.UserContext(), id, edit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "transaction": tx})
}

func idParam(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid id %q", c.Params("id")))
	}
	return uint(id), nil
}

// handleError maps domain errors onto status codes.
func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status = fe.Code
	case errors.Is(err, storage.ErrNotFound):
		status = fiber.StatusNotFound
	case ingest.IsInputError(err), errors.Is(err, models.ErrConditionIllFormed):
		status = fiber.StatusUnprocessableEntity
	}
	if status >= fiber.StatusInternalServerError {
		h.Log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(ErrorResponse{Success: false, Error: err.Error()})
}
