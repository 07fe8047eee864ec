package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/insightdelivered/statement-analyzer/internal/ingest"
	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/parser"
	"github.com/insightdelivered/statement-analyzer/internal/storage"
)

const statementCSV = `Date,Description,Amount
01/04/2025,UPI/DR/511111111111/SWIGGY/YESB/swiggy@ybl/UPI,-450.00
02/04/2025,NEFT CR-ACME LTD SALARY,60000.00
`

type testServer struct {
	app     *fiber.App
	store   *storage.Store
	account *models.Account
}

func setupTestApp(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	u, err := st.EnsureUser(ctx, "meera")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	a := &models.Account{UserID: u.ID, Name: "Current"}
	if err := st.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	h := &Handler{Store: st, Ingest: ingest.NewService(st, parser.Options{}), Log: logger.Nop()}
	return &testServer{app: NewApp(h), store: st, account: a}
}

func uploadRequest(t *testing.T, url, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	io.WriteString(fw, content)
	mw.Close()

	req := httptest.NewRequest("POST", url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("failed to decode response %s: %v", body, err)
	}
}

func (s *testServer) upload(t *testing.T) ingest.Report {
	t.Helper()
	resp, err := s.app.Test(uploadRequest(t, fmt.Sprintf("/api/accounts/%d/statements", s.account.ID), "april.csv", statementCSV))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload: expected 201, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Report ingest.Report `json:"report"`
	}
	decode(t, resp, &out)
	return out.Report
}

func TestHealthEndpoint(t *testing.T) {
	s := setupTestApp(t)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]string
	decode(t, resp, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", result["status"])
	}
	if result["engine"] != "fiber" {
		t.Errorf("expected engine=fiber, got %q", result["engine"])
	}
}

func TestUploadEndpoint(t *testing.T) {
	s := setupTestApp(t)
	report := s.upload(t)

	if report.Transactions != 2 || report.StatementID == 0 || !report.RulesApplied {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Results) != 2 || report.Results[0].CurrentCategory.Standard != models.CategoryFood {
		t.Errorf("swiggy should fall back to FOOD: %+v", report.Results)
	}
	if report.Results[1].CurrentCategory.Standard != models.CategoryIncome {
		t.Errorf("credit should fall back to INCOME: %+v", report.Results[1])
	}
}

func TestUploadEndpoint_Errors(t *testing.T) {
	s := setupTestApp(t)
	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"missing file", func() *http.Request {
			req := httptest.NewRequest("POST", fmt.Sprintf("/api/accounts/%d/statements", s.account.ID), nil)
			req.Header.Set("Content-Type", "multipart/form-data; boundary=----test")
			return req
		}(), fiber.StatusBadRequest},
		{"unsupported type", uploadRequest(t, fmt.Sprintf("/api/accounts/%d/statements", s.account.ID), "notes.docx", "x"), fiber.StatusUnprocessableEntity},
		{"unknown account", uploadRequest(t, "/api/accounts/999/statements", "april.csv", statementCSV), fiber.StatusNotFound},
		{"bad id", uploadRequest(t, "/api/accounts/abc/statements", "april.csv", statementCSV), fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.app.Test(tt.req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			var out ErrorResponse
			decode(t, resp, &out)
			if out.Success || out.Error == "" {
				t.Errorf("expected an error body, got %+v", out)
			}
		})
	}
}

func TestAuditEndpoint(t *testing.T) {
	s := setupTestApp(t)
	report := s.upload(t)

	resp, err := s.app.Test(httptest.NewRequest("GET", fmt.Sprintf("/api/statements/%d/audit?counterparty=upi", report.StatementID), nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out AuditResponse
	decode(t, resp, &out)
	if got := out.Report.Financial.NetChange.String(); got != "59550" {
		t.Errorf("net change: got %s, want 59550", got)
	}
	if out.Summary == nil || out.Summary.TransactionCount != 2 {
		t.Errorf("summary: %+v", out.Summary)
	}
	if out.Report.Integrity.Transactions != 2 {
		t.Errorf("integrity: %+v", out.Report.Integrity)
	}

	resp, _ = s.app.Test(httptest.NewRequest("GET", fmt.Sprintf("/api/statements/%d/audit?counterparty=bogus", report.StatementID), nil))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("bad counterparty option: expected 400, got %d", resp.StatusCode)
	}
	resp, _ = s.app.Test(httptest.NewRequest("GET", "/api/statements/999/audit", nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("missing statement: expected 404, got %d", resp.StatusCode)
	}
}

func patch(t *testing.T, app *fiber.App, id uint, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("PATCH", fmt.Sprintf("/api/transactions/%d", id), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestEditAndReapplyEndpoints(t *testing.T) {
	s := setupTestApp(t)
	report := s.upload(t)
	swiggy := report.Results[0].TransactionID

	resp := patch(t, s.app, swiggy, `{"category":"entertainment","label":"team lunch","editor":"meera"}`)
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("edit: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Transaction models.Transaction `json:"transaction"`
	}
	decode(t, resp, &out)
	if out.Transaction.Category != models.CategoryEntertainment || !out.Transaction.IsManuallyEdited || out.Transaction.UserLabel != "team lunch" {
		t.Errorf("edited transaction: %+v", out.Transaction)
	}

	badEdits := []struct {
		body   string
		status int
	}{
		{`{"category":"snacks","editor":"meera"}`, fiber.StatusBadRequest},
		{`{"category":"FOOD"}`, fiber.StatusBadRequest},
		{`{"editor":"meera"}`, fiber.StatusBadRequest},
		{`{"custom_category":"Nope","editor":"meera"}`, fiber.StatusNotFound},
		{`not json`, fiber.StatusBadRequest},
	}
	for _, tt := range badEdits {
		if resp := patch(t, s.app, swiggy, tt.body); resp.StatusCode != tt.status {
			t.Errorf("PATCH %s: expected %d, got %d", tt.body, tt.status, resp.StatusCode)
		}
	}

	resp, err := s.app.Test(httptest.NewRequest("POST", fmt.Sprintf("/api/accounts/%d/reapply", s.account.ID), nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("reapply: expected 200, got %d", resp.StatusCode)
	}
	var re struct {
		Report struct {
			Examined int                           `json:"examined"`
			Changes  []models.ClassificationResult `json:"changes"`
			Manual   []models.ClassificationResult `json:"manual"`
		} `json:"report"`
	}
	decode(t, resp, &re)
	if re.Report.Examined != 2 || len(re.Report.Manual) != 1 || len(re.Report.Changes) != 0 {
		t.Errorf("reapply report: %+v", re.Report)
	}

	stored, err := s.store.Transaction(context.Background(), swiggy)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if stored.Category != models.CategoryEntertainment {
		t.Errorf("manual edit lost after reapply: %+v", stored)
	}
}
