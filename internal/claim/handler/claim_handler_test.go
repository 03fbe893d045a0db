package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/service"
	"github.com/ballggwp/eclaim/internal/claim/sse"
	"github.com/ballggwp/eclaim/internal/claim/testutil"
	"github.com/ballggwp/eclaim/internal/config"
	"github.com/ballggwp/eclaim/internal/middleware"
	"github.com/gin-gonic/gin"
)

type testEnv struct {
	router *gin.Engine
	claims *testutil.MemoryClaimStore
	files  *testutil.MemoryStorage
	tokens *testutil.MemoryTokenStore

	creator, approver, insurer, manager *entity.User
}

func setupClaimTest(t *testing.T) *testEnv {
	t.Helper()
	creator := testutil.NewUser("u-creator", "สมชาย ใจดี", "somchai@example.com", entity.RoleUser)
	approver := testutil.NewUser("u-approver", "อนันต์ ผู้อนุมัติ", "anan@example.com", entity.RoleUser)
	insurer := testutil.NewUser("u-insurer", "Ins Officer", "insurance@example.com", entity.RoleInsurance)
	manager := testutil.NewUser("u-manager", "Mana Manager", "manager@example.com", entity.RoleManager)
	hash, err := service.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	creator.PasswordHash = hash

	claims := testutil.NewMemoryClaimStore()
	users := testutil.NewMemoryUserStore(creator, approver, insurer, manager)
	files := testutil.NewMemoryStorage()
	tokens := testutil.NewMemoryTokenStore()

	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:             testutil.JWTSecret,
			AccessTokenExpire:  time.Hour,
			RefreshTokenExpire: 24 * time.Hour,
			Issuer:             "eclaim",
		},
		Claim: config.ClaimConfig{DocNumPrefix: "CPM", MaxUploadMB: 1, Timezone: "UTC"},
	}
	svc := &service.Services{
		Claim:  service.NewClaimService(claims, users, files, service.NewDocNumGenerator("CPM", nil, claims, time.UTC), nil),
		Auth:   service.NewAuthService(users, tokens, cfg.JWT),
		User:   service.NewUserService(users),
		Report: service.NewReportService(claims, time.UTC),
	}
	h := NewHandlers(svc, sse.NewHub(nil), cfg)

	r := testutil.SetupRouter()
	h.Register(r.Group("/api/v1"), r.Group("/api/v1", middleware.JWTAuth(testutil.JWTSecret, tokens)))

	return &testEnv{
		router: r, claims: claims, files: files, tokens: tokens,
		creator: creator, approver: approver, insurer: insurer, manager: manager,
	}
}

func cpmJSON() string {
	b, _ := json.Marshal(entity.CPMForm{
		AccidentDate:  "2025-02-27",
		AccidentTime:  "14:30",
		Location:      "Rama 9 Rd.",
		Cause:         "rear-end collision",
		DamageOwnType: "vehicle",
		DamageDetail:  "rear bumper",
		DamageAmount:  25000,
	})
	return string(b)
}

// createSubmitted files a claim through the API and returns its id.
func (env *testEnv) createSubmitted(t *testing.T) string {
	t.Helper()
	w := testutil.DoMultipart(env.router, "POST", "/api/v1/claims", map[string]string{
		"categoryMain": "CPM",
		"categorySub":  "vehicle",
		"approverId":   env.approver.ID,
		"submit":       "true",
		"cpm":          cpmJSON(),
	}, []testutil.FilePart{
		{Field: "damageFiles", Name: "bumper.jpg", Content: []byte("jpeg")},
		{Field: "estimateFiles", Name: "quote.pdf", Content: []byte("pdf")},
	}, testutil.TokenFor(env.creator))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.Data(testutil.ParseResponse(w))
	if data["status"] != string(entity.StatusPendingApproverReview) {
		t.Fatalf("create: status = %v", data["status"])
	}
	return data["id"].(string)
}

func TestCreateAndGet(t *testing.T) {
	env := setupClaimTest(t)
	id := env.createSubmitted(t)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/claims/"+id, nil, testutil.TokenFor(env.approver))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.Data(testutil.ParseResponse(w))
	actions, _ := data["actions"].([]interface{})
	if len(actions) != 2 {
		t.Errorf("actions = %v", data["actions"])
	}
	claim := data["claim"].(map[string]interface{})
	atts, _ := claim["attachments"].([]interface{})
	if len(atts) != 2 {
		t.Errorf("attachments = %d", len(atts))
	}
	if _, leaked := atts[0].(map[string]interface{})["object_key"]; leaked {
		t.Error("object key must not be serialized")
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/claims/missing", nil, testutil.TokenFor(env.approver))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing claim: expected 404, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/claims/"+id, nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
}

func TestCreateJSONDraft(t *testing.T) {
	env := setupClaimTest(t)
	w := testutil.DoRequest(env.router, "POST", "/api/v1/claims", gin.H{
		"categoryMain": "CPM",
		"categorySub":  "fire",
		"approverId":   env.approver.ID,
	}, testutil.TokenFor(env.creator))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got := testutil.Data(testutil.ParseResponse(w))["status"]; got != "DRAFT" {
		t.Errorf("status = %v", got)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/claims", gin.H{"categoryMain": "CPM"}, testutil.TokenFor(env.creator))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	resp := testutil.ParseResponse(w)
	if resp["code"] != float64(40001) {
		t.Errorf("code = %v", resp["code"])
	}
	if fields, _ := testutil.Data(resp)["fields"].([]interface{}); len(fields) != 2 {
		t.Errorf("fields = %v", testutil.Data(resp)["fields"])
	}
}

func TestActionErrors(t *testing.T) {
	env := setupClaimTest(t)
	id := env.createSubmitted(t)
	path := "/api/v1/claims/" + id + "/actions"

	tests := []struct {
		name     string
		user     *entity.User
		body     gin.H
		wantHTTP int
		wantCode float64
	}{
		{"creator cannot approve", env.creator, gin.H{"action": "approve"}, 403, 40300},
		{"no confirm here", env.creator, gin.H{"action": "confirm"}, 409, 40901},
		{"stale expected status", env.approver, gin.H{"action": "approve", "expectedStatus": "DRAFT"}, 409, 40900},
		{"reject needs comment", env.approver, gin.H{"action": "reject"}, 400, 40001},
		{"unknown action", env.approver, gin.H{"action": "teleport"}, 400, 40001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.DoRequest(env.router, "POST", path, tt.body, testutil.TokenFor(tt.user))
			if w.Code != tt.wantHTTP {
				t.Fatalf("expected %d, got %d: %s", tt.wantHTTP, w.Code, w.Body.String())
			}
			if got := testutil.ParseResponse(w)["code"]; got != tt.wantCode {
				t.Errorf("code = %v, want %v", got, tt.wantCode)
			}
		})
	}

	w := testutil.DoRequest(env.router, "POST", path, gin.H{"action": "approve", "expectedStatus": "PENDING_APPROVER_REVIEW"}, testutil.TokenFor(env.approver))
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}
	// the same request again finds the claim already moved on
	w = testutil.DoRequest(env.router, "POST", path, gin.H{"action": "approve", "expectedStatus": "PENDING_APPROVER_REVIEW"}, testutil.TokenFor(env.approver))
	if w.Code != http.StatusConflict {
		t.Errorf("repeat approve: expected 409, got %d", w.Code)
	}
}

func TestEvidenceLoopAndConfirm(t *testing.T) {
	env := setupClaimTest(t)
	id := env.createSubmitted(t)
	base := "/api/v1/claims/" + id

	step := func(u *entity.User, body gin.H) {
		t.Helper()
		w := testutil.DoRequest(env.router, "POST", base+"/actions", body, testutil.TokenFor(u))
		if w.Code != http.StatusOK {
			t.Fatalf("%v: %d %s", body, w.Code, w.Body.String())
		}
	}
	step(env.approver, gin.H{"action": "approve"})
	step(env.insurer, gin.H{"action": "request_evidence", "comment": "police report please"})

	w := testutil.DoMultipart(env.router, "PUT", base+"/cpm", map[string]string{"cpm": cpmJSON()},
		[]testutil.FilePart{{Field: "otherFiles", Name: "police.pdf", Content: []byte("report")}}, testutil.TokenFor(env.creator))
	if w.Code != http.StatusOK {
		t.Fatalf("resubmit: %d %s", w.Code, w.Body.String())
	}
	if got := testutil.Data(testutil.ParseResponse(w))["status"]; got != "PENDING_INSURER_REVIEW" {
		t.Fatalf("after resubmit: %v", got)
	}

	step(env.insurer, gin.H{"action": "approve"})

	w = testutil.DoRequest(env.router, "GET", base+"/fppa04", nil, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusOK {
		t.Fatalf("get fppa04: %d", w.Code)
	}
	var form entity.Settlement
	raw, _ := json.Marshal(testutil.Data(testutil.ParseResponse(w)))
	json.Unmarshal(raw, &form)
	form.ClaimRefNumber = "REF-1"
	form.Items[0].Total = 10000

	w = testutil.DoRequest(env.router, "PUT", base+"/fppa04", form, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusOK {
		t.Fatalf("save fppa04: %d %s", w.Code, w.Body.String())
	}
	step(env.insurer, gin.H{"action": "submit_settlement"})
	step(env.manager, gin.H{"action": "approve"})

	w = testutil.DoMultipart(env.router, "POST", base+"/userconfirm", map[string]string{"action": "confirm"}, nil, testutil.TokenFor(env.creator))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("confirm without file: expected 400, got %d", w.Code)
	}
	w = testutil.DoMultipart(env.router, "POST", base+"/userconfirm", map[string]string{"action": "confirm"},
		[]testutil.FilePart{{Field: "confirmationFiles", Name: "signed.pdf", Content: []byte("signed")}}, testutil.TokenFor(env.creator))
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", w.Code, w.Body.String())
	}
	if got := testutil.Data(testutil.ParseResponse(w))["status"]; got != "COMPLETED" {
		t.Errorf("final status = %v", got)
	}

	w = testutil.DoRequest(env.router, "GET", base+"/history", nil, testutil.TokenFor(env.creator))
	items, _ := testutil.Data(testutil.ParseResponse(w))["items"].([]interface{})
	if len(items) != 8 {
		t.Errorf("history rows = %d, want 8", len(items))
	}
}

func TestAttachmentEndpoints(t *testing.T) {
	env := setupClaimTest(t)
	id := env.createSubmitted(t)
	base := "/api/v1/claims/" + id + "/attachments"

	w := testutil.DoMultipart(env.router, "POST", base, map[string]string{"type": "insurance_doc"},
		[]testutil.FilePart{{Field: "files", Name: "policy.pdf", Content: []byte("%PDF-policy")}}, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", w.Code, w.Body.String())
	}
	items, _ := testutil.Data(testutil.ParseResponse(w))["items"].([]interface{})
	attID := items[0].(map[string]interface{})["id"].(string)
	// local files are only reachable through the authorized download route
	if got := items[0].(map[string]interface{})["url"]; got != base+"/"+attID {
		t.Errorf("url = %v, want %s", got, base+"/"+attID)
	}
	if w = testutil.DoRequest(env.router, "GET", base+"/"+attID, nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous download: expected 401, got %d", w.Code)
	}

	w = testutil.DoMultipart(env.router, "POST", base, nil,
		[]testutil.FilePart{{Field: "files", Name: "untyped.pdf", Content: []byte("x")}}, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusBadRequest || testutil.ParseResponse(w)["code"] != float64(40001) {
		t.Errorf("missing type: %d %s", w.Code, w.Body.String())
	}
	if fields, _ := testutil.Data(testutil.ParseResponse(w))["fields"].([]interface{}); len(fields) != 1 || fields[0] != "type" {
		t.Errorf("missing type fields = %v", fields)
	}

	w = testutil.DoMultipart(env.router, "POST", base, map[string]string{"type": "INSURANCE_DOC"}, []testutil.FilePart{
		{Field: "files", Name: "a.pdf", Content: []byte("a")},
		{Field: "files", Name: "b.pdf", Content: []byte("b")},
	}, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusCreated {
		t.Fatalf("add two: %d %s", w.Code, w.Body.String())
	}
	if items, _ := testutil.Data(testutil.ParseResponse(w))["items"].([]interface{}); len(items) != 2 {
		t.Errorf("add two: items = %d", len(items))
	}

	w = testutil.DoRequest(env.router, "GET", base+"/"+attID, nil, testutil.TokenFor(env.manager))
	if w.Code != http.StatusOK || w.Body.String() != "%PDF-policy" {
		t.Fatalf("download: %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %s", ct)
	}

	w = testutil.DoMultipart(env.router, "POST", base, map[string]string{"type": "DAMAGE_IMAGE"},
		[]testutil.FilePart{{Field: "files", Name: "late.jpg", Content: []byte("x")}}, testutil.TokenFor(env.creator))
	if w.Code != http.StatusConflict || testutil.ParseResponse(w)["code"] != float64(40902) {
		t.Errorf("late evidence: %d %s", w.Code, w.Body.String())
	}

	big := bytes.Repeat([]byte("a"), (1<<20)+1)
	w = testutil.DoMultipart(env.router, "POST", base, map[string]string{"type": "INSURANCE_DOC"},
		[]testutil.FilePart{{Field: "files", Name: "big.pdf", Content: big}}, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized upload: expected 400, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "DELETE", base+"/"+attID, nil, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.router, "DELETE", base+"/"+attID, nil, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusNotFound {
		t.Errorf("delete twice: expected 404, got %d", w.Code)
	}
}

func TestListSections(t *testing.T) {
	env := setupClaimTest(t)
	for i := 0; i < 3; i++ {
		env.createSubmitted(t)
	}

	w := testutil.DoRequest(env.router, "GET", "/api/v1/claims?section=approver&page=1", nil, testutil.TokenFor(env.approver))
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	approver := testutil.Data(testutil.ParseResponse(w))["approver"].(map[string]interface{})
	if approver["total"] != float64(3) {
		t.Errorf("approver total = %v", approver["total"])
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/claims?status=bogus", nil, testutil.TokenFor(env.approver))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad status: expected 400, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/claims/dashboard", nil, testutil.TokenFor(env.creator))
	pending := testutil.Data(testutil.ParseResponse(w))["pending_approver"].(map[string]interface{})
	if pending["total"] != float64(3) {
		t.Errorf("dashboard pending_approver = %v", pending["total"])
	}
}

func TestEditSignerEndpoint(t *testing.T) {
	env := setupClaimTest(t)
	id := env.createSubmitted(t)
	path := fmt.Sprintf("/api/v1/claims/%s/signer", id)

	testutil.DoRequest(env.router, "POST", "/api/v1/claims/"+id+"/actions", gin.H{"action": "approve"}, testutil.TokenFor(env.approver))

	w := testutil.DoRequest(env.router, "PUT", path, gin.H{"signerId": env.manager.ID}, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusOK {
		t.Fatalf("edit signer: %d %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.router, "PUT", path, gin.H{"signerId": env.approver.ID}, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusConflict || testutil.ParseResponse(w)["code"] != float64(40902) {
		t.Errorf("second edit: %d %s", w.Code, w.Body.String())
	}
}

func TestReportEndpoint(t *testing.T) {
	env := setupClaimTest(t)
	env.createSubmitted(t)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/reports/cpm?month=3&year=2025", nil, testutil.TokenFor(env.creator))
	if w.Code != http.StatusForbidden {
		t.Errorf("user report: expected 403, got %d", w.Code)
	}

	now := time.Now()
	w = testutil.DoRequest(env.router, "GET", fmt.Sprintf("/api/v1/reports/cpm?month=%d&year=%d", now.Month(), now.Year()), nil, testutil.TokenFor(env.manager))
	if w.Code != http.StatusOK {
		t.Fatalf("report: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("content type = %s", ct)
	}
	if w.Body.Len() == 0 {
		t.Error("empty workbook")
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/reports/cpm?month=13", nil, testutil.TokenFor(env.manager))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad month: expected 400, got %d", w.Code)
	}
}

func TestHiddenDraftActions(t *testing.T) {
	env := setupClaimTest(t)
	w := testutil.DoRequest(env.router, "POST", "/api/v1/claims", gin.H{
		"categoryMain": "CPM", "categorySub": "fire", "approverId": env.approver.ID,
	}, testutil.TokenFor(env.creator))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	base := "/api/v1/claims/" + testutil.Data(testutil.ParseResponse(w))["id"].(string)

	for _, u := range []*entity.User{env.insurer, env.approver} {
		w = testutil.DoRequest(env.router, "POST", base+"/actions",
			gin.H{"action": "approve", "expectedStatus": "PENDING_APPROVER_REVIEW"}, testutil.TokenFor(u))
		if w.Code != http.StatusForbidden || testutil.ParseResponse(w)["code"] != float64(40300) {
			t.Errorf("%s approve: %d %s", u.ID, w.Code, w.Body.String())
		}
		if strings.Contains(w.Body.String(), "DRAFT") {
			t.Errorf("%s approve: response names the status: %s", u.ID, w.Body.String())
		}
	}

	w = testutil.DoMultipart(env.router, "POST", base+"/attachments", map[string]string{"type": "INSURANCE_DOC"},
		[]testutil.FilePart{{Field: "files", Name: "p.pdf", Content: []byte("p")}}, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusForbidden {
		t.Errorf("upload to hidden draft: expected 403, got %d", w.Code)
	}
	w = testutil.DoRequest(env.router, "DELETE", base+"/attachments/whatever", nil, testutil.TokenFor(env.insurer))
	if w.Code != http.StatusForbidden {
		t.Errorf("delete on hidden draft: expected 403, got %d", w.Code)
	}
}

func TestSaveDraftExpectedVersion(t *testing.T) {
	env := setupClaimTest(t)
	w := testutil.DoRequest(env.router, "POST", "/api/v1/claims", gin.H{
		"categoryMain": "CPM", "categorySub": "fire", "approverId": env.approver.ID,
	}, testutil.TokenFor(env.creator))
	created := testutil.Data(testutil.ParseResponse(w))
	if created["version"] != float64(1) {
		t.Fatalf("new claim version = %v", created["version"])
	}
	path := "/api/v1/claims/" + created["id"].(string) + "/cpm"

	var form entity.CPMForm
	json.Unmarshal([]byte(cpmJSON()), &form)
	body := gin.H{"cpm": form, "saveAsDraft": true, "expectedStatus": "DRAFT", "expectedVersion": 1}
	w = testutil.DoRequest(env.router, "PUT", path, body, testutil.TokenFor(env.creator))
	if w.Code != http.StatusOK {
		t.Fatalf("first save: %d %s", w.Code, w.Body.String())
	}
	if got := testutil.Data(testutil.ParseResponse(w))["version"]; got != float64(2) {
		t.Errorf("version after save = %v", got)
	}

	form.Location = "somewhere stale"
	body["cpm"] = form
	w = testutil.DoRequest(env.router, "PUT", path, body, testutil.TokenFor(env.creator))
	if w.Code != http.StatusConflict || testutil.ParseResponse(w)["code"] != float64(40900) {
		t.Fatalf("stale save: %d %s", w.Code, w.Body.String())
	}
	stored, _ := env.claims.FindByID(context.Background(), created["id"].(string))
	if stored.Form().Location != "Rama 9 Rd." {
		t.Errorf("stale save overwrote the form: location = %q", stored.Form().Location)
	}

	w = testutil.DoRequest(env.router, "PUT", path, gin.H{"saveAsDraft": true, "expectedVersion": -1}, testutil.TokenFor(env.creator))
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative version: expected 400, got %d", w.Code)
	}
}

func TestDownloadRecordsCopyError(t *testing.T) {
	env := setupClaimTest(t)
	id := env.createSubmitted(t)
	stored, err := env.claims.FindByID(context.Background(), id)
	if err != nil || len(stored.Attachments) == 0 {
		t.Fatalf("claim: %v", err)
	}

	readErr := errors.New("disk read error")
	env.files.FailRead = readErr
	users := testutil.NewMemoryUserStore(env.creator)
	h := NewClaimHandler(service.NewClaimService(env.claims, users, env.files, nil, nil), 1)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/claims/"+id+"/attachments/"+stored.Attachments[0].ID, nil)
	c.Params = gin.Params{{Key: "id", Value: id}, {Key: "attId", Value: stored.Attachments[0].ID}}
	c.Set("user_id", env.creator.ID)
	c.Set("role", string(env.creator.Role))

	h.DownloadAttachment(c)
	if len(c.Errors) != 1 || !errors.Is(c.Errors[0].Err, readErr) {
		t.Errorf("c.Errors = %v, want the read error", c.Errors)
	}
}
