package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/storage"
)

const testPassword = "secreto"

type testServer struct {
	app   *fiber.App
	store *memory.Store
	blobs *storage.MemoryBlobStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := auth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	store := memory.NewStore()
	area := store.AddArea("Sistemas")
	store.AddUser(domain.User{Username: "ana", PasswordHash: hash, Role: domain.RoleRequester, Active: true, AreaID: &area.ID})
	store.AddUser(domain.User{Username: "tomas", PasswordHash: hash, Role: domain.RoleTechnician, Active: true})
	rt := store.AddRequestType(domain.RequestType{Name: "Impresoras", Slug: "impresoras", Order: 1, Active: true})
	store.AddSuggestion(domain.ProblemSuggestion{RequestTypeID: rt.ID, Text: "No imprime", Order: 1, Active: true})

	blobs := storage.NewMemoryBlobStore("/uploads/tickets")
	logger := zap.NewNop()
	dispatcher := events.NewInMemoryDispatcher()
	tokens := auth.NewTokenManager("test-secret", 5)

	authService := service.NewAuthService(service.AuthDependencies{Store: store, Tokens: tokens, Logger: logger})
	gate := service.NewSurveyGate(service.SurveyGateDependencies{Store: store, Dispatcher: dispatcher, Logger: logger})
	attachments := service.NewAttachmentCatalog(service.AttachmentCatalogDependencies{
		Store: store, Blobs: blobs, Dispatcher: dispatcher, Logger: logger,
	})
	registry := service.NewTicketRegistry(service.TicketRegistryDependencies{
		Store:       store,
		SurveyGate:  gate,
		Attachments: attachments,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Config:      config.TicketConfig{MaxTotalTickets: 5},
	})
	ledger := service.NewAssignmentLedger(service.AssignmentLedgerDependencies{Store: store, Dispatcher: dispatcher, Logger: logger})
	catalog := service.NewCatalogService(service.CatalogDependencies{Store: store, Logger: logger})

	metrics := observability.NewMetrics()
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("helpdesk-service", "test", nil, metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Catalog:        handlers.NewCatalogHandler(catalog),
		Uploads:        handlers.NewUploadsHandler(blobs),
		Requester:      handlers.NewRequesterHandler(registry, gate, attachments),
		Technician:     handlers.NewTechnicianHandler(registry, ledger, attachments),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, authService),
	})
	return &testServer{app: app, store: store, blobs: blobs}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, req *nethttp.Request, token string) (int, envelope, []byte) {
	t.Helper()
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env, raw
}

func (s *testServer) doJSON(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	status, env, _ := s.do(t, req, token)
	return status, env
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	status, env := s.doJSON(t, nethttp.MethodPost, "/auth/login", "", map[string]string{
		"username": username,
		"password": testPassword,
	})
	require.Equal(t, nethttp.StatusOK, status)
	var data struct {
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Auth.Token)
	return data.Auth.Token
}

type formFile struct {
	name, contentType, body string
}

func multipartRequest(t *testing.T, path string, fields map[string]string, fileField string, files ...formFile) *nethttp.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="`+f.name+`"`)
		header.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(nethttp.MethodPost, path, &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

type ticketView struct {
	ID      int64  `json:"id"`
	Subject string `json:"subject"`
	State   string `json:"state"`
}

func TestLoginAndAuthentication(t *testing.T) {
	s := newTestServer(t)

	status, env := s.doJSON(t, nethttp.MethodPost, "/auth/login", "", map[string]string{"username": "ana", "password": "mal"})
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHENTICATED", env.Error.Code)

	status, env = s.doJSON(t, nethttp.MethodPost, "/auth/login", "", map[string]string{"username": "ana"})
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "password", env.Error.Details["field"])

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/me", "", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", env.Error.Code)

	status, _ = s.doJSON(t, nethttp.MethodGet, "/api/me", "not-a-token", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)

	token := s.login(t, "ana")
	status, env = s.doJSON(t, nethttp.MethodGet, "/api/me", token, nil)
	require.Equal(t, nethttp.StatusOK, status)
	me := decode[struct {
		Username string `json:"username"`
		Role     string `json:"role"`
		AreaName string `json:"area_name"`
	}](t, env.Data)
	assert.Equal(t, "ana", me.Username)
	assert.Equal(t, "SOLICITANTE", me.Role)
	assert.Equal(t, "Sistemas", me.AreaName)
}

func TestRoleRestrictedRoutes(t *testing.T) {
	s := newTestServer(t)
	requester := s.login(t, "ana")
	technician := s.login(t, "tomas")

	status, env := s.doJSON(t, nethttp.MethodGet, "/api/requester/tickets", technician, nil)
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, _ = s.doJSON(t, nethttp.MethodGet, "/api/technician/tickets", requester, nil)
	assert.Equal(t, nethttp.StatusForbidden, status)

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/technician/tickets/abc", technician, nil)
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)

	status, env = s.doJSON(t, nethttp.MethodGet, "/nope", "", nil)
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	requester := s.login(t, "ana")
	technician := s.login(t, "tomas")

	req := multipartRequest(t, "/api/requester/tickets", map[string]string{
		"requester_name": "Ana Perez",
		"request_type":   "Impresoras",
		"description":    "no imprime",
	}, "imagenes",
		formFile{name: "foto.png", contentType: "image/png", body: "png-bytes"},
		formFile{name: "log.txt", contentType: "text/plain", body: "ignored"},
	)
	status, env, _ := s.do(t, req, requester)
	require.Equal(t, nethttp.StatusCreated, status, string(env.Data))
	created := decode[ticketView](t, env.Data)
	assert.Equal(t, "Impresoras", created.Subject)
	assert.Equal(t, "PENDIENTE", created.State)
	ticketPath := "/api/technician/tickets/" + strconv.FormatInt(created.ID, 10)

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/requester/tickets/"+strconv.FormatInt(created.ID, 10)+"/attachments", requester, nil)
	require.Equal(t, nethttp.StatusOK, status)
	atts := decode[[]struct {
		FileName string `json:"file_name"`
		URL      string `json:"url"`
	}](t, env.Data)
	require.Len(t, atts, 1)
	assert.Equal(t, "foto.png", atts[0].FileName)

	status, _, body := s.do(t, httptest.NewRequest(nethttp.MethodGet, atts[0].URL, nil), technician)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "png-bytes", string(body))
	status, _, _ = s.do(t, httptest.NewRequest(nethttp.MethodGet, "/uploads/tickets/missing.png", nil), technician)
	assert.Equal(t, nethttp.StatusNotFound, status)

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/technician/tickets?scope=disponibles", technician, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, decode[[]ticketView](t, env.Data), 1)

	status, env = s.doJSON(t, nethttp.MethodPost, ticketPath+"/claim", technician, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "EN_CURSO", decode[ticketView](t, env.Data).State)

	status, env = s.doJSON(t, nethttp.MethodPost, ticketPath+"/assignees", technician, map[string]any{})
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "technician_ids", env.Error.Details["field"])

	status, _ = s.doJSON(t, nethttp.MethodPost, ticketPath+"/notes", technician, map[string]string{"text": "revisando"})
	assert.Equal(t, nethttp.StatusCreated, status)

	status, env = s.doJSON(t, nethttp.MethodPatch, ticketPath+"/state", technician, map[string]string{"state": "RESUELTO"})
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "MISSING_NOTE", env.Error.Code)

	status, env = s.doJSON(t, nethttp.MethodPatch, ticketPath+"/state", technician, map[string]string{"state": "resuelto", "note": "cambio de toner"})
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "RESUELTO", decode[ticketView](t, env.Data).State)

	status, env = s.doJSON(t, nethttp.MethodGet, ticketPath, technician, nil)
	require.Equal(t, nethttp.StatusOK, status)
	detail := decode[struct {
		Notes []struct {
			Text string `json:"text"`
		} `json:"notes"`
	}](t, env.Data)
	require.Len(t, detail.Notes, 2)

	// the closed ticket blocks new requests until it is surveyed
	status, env = s.doJSON(t, nethttp.MethodPost, "/api/requester/tickets", requester, map[string]string{
		"requester_name": "Ana Perez",
		"request_type":   "Impresoras",
		"description":    "otra vez",
	})
	assert.Equal(t, nethttp.StatusConflict, status)
	assert.Equal(t, "SURVEY_PENDING", env.Error.Code)

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/requester/surveys/pending", requester, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)

	status, env = s.doJSON(t, nethttp.MethodPost, "/api/requester/surveys", requester, map[string]any{
		"ticket_id":   created.ID,
		"p2":          5,
		"speed":       "4",
		"suggestions": "ninguna",
	})
	require.Equal(t, nethttp.StatusCreated, status)
	survey := decode[struct {
		P2       *int   `json:"p2"`
		Speed    *int   `json:"speed"`
		Attended string `json:"attended"`
	}](t, env.Data)
	require.NotNil(t, survey.P2)
	assert.Equal(t, 5, *survey.P2)
	require.NotNil(t, survey.Speed)
	assert.Equal(t, 4, *survey.Speed)
	assert.Equal(t, domain.AttendedYes, survey.Attended)

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/requester/tickets/quota", requester, nil)
	require.Equal(t, nethttp.StatusOK, status)
	quota := decode[struct {
		Count     int `json:"count"`
		Remaining int `json:"remaining"`
	}](t, env.Data)
	assert.Equal(t, 1, quota.Count)
	assert.Equal(t, 4, quota.Remaining)

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/requester/tickets?state=FINALIZADOS", requester, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, decode[[]ticketView](t, env.Data), 1)
}

func TestCatalogAndHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "tomas")

	status, env := s.doJSON(t, nethttp.MethodGet, "/api/catalog/request-types", token, nil)
	require.Equal(t, nethttp.StatusOK, status)
	types := decode[[]domain.RequestType](t, env.Data)
	require.Len(t, types, 1)

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/catalog/suggestions?tipo=impresoras", token, nil)
	require.Equal(t, nethttp.StatusOK, status)
	suggestions := decode[[]domain.ProblemSuggestion](t, env.Data)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "No imprime", suggestions[0].Text)

	status, env = s.doJSON(t, nethttp.MethodGet, "/api/catalog/suggestions", token, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.JSONEq(t, "[]", string(env.Data))

	status, _ = s.doJSON(t, nethttp.MethodGet, "/api/catalog/suggestions?tipo_id=x", token, nil)
	assert.Equal(t, nethttp.StatusBadRequest, status)

	status, _ = s.doJSON(t, nethttp.MethodGet, "/health/live", "", nil)
	assert.Equal(t, nethttp.StatusOK, status)
	status, _ = s.doJSON(t, nethttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, nethttp.StatusOK, status)

	status, _, raw := s.do(t, httptest.NewRequest(nethttp.MethodGet, "/metrics", nil), "")
	require.Equal(t, nethttp.StatusOK, status)
	snap := decode[observability.MetricsSnapshot](t, raw)
	assert.NotEmpty(t, snap.Requests)
}

func TestEvidenceFieldNamesAndFormEncodedSurvey(t *testing.T) {
	s := newTestServer(t)
	requester := s.login(t, "ana")
	technician := s.login(t, "tomas")

	status, env := s.doJSON(t, nethttp.MethodPost, "/api/requester/tickets", requester, map[string]string{
		"requester_name": "Ana Perez",
		"request_type":   "Impresoras",
		"description":    "atasco de papel",
	})
	require.Equal(t, nethttp.StatusCreated, status, string(env.Data))
	created := decode[ticketView](t, env.Data)
	id := strconv.FormatInt(created.ID, 10)
	ticketPath := "/api/technician/tickets/" + id

	status, _ = s.doJSON(t, nethttp.MethodPost, ticketPath+"/claim", technician, nil)
	require.Equal(t, nethttp.StatusOK, status)

	for _, field := range []string{"images", "imagenes", "evidencias"} {
		req := multipartRequest(t, ticketPath+"/evidence", nil, field,
			formFile{name: field + ".png", contentType: "image/png", body: "png"})
		status, env, _ = s.do(t, req, technician)
		require.Equal(t, nethttp.StatusCreated, status, "field %s", field)
		assert.Len(t, decode[[]map[string]any](t, env.Data), 1, "field %s", field)
	}

	status, env = s.doJSON(t, nethttp.MethodGet, ticketPath, technician, nil)
	require.Equal(t, nethttp.StatusOK, status)
	detail := decode[struct {
		Attachments []struct {
			FileName string `json:"file_name"`
		} `json:"attachments"`
	}](t, env.Data)
	assert.Len(t, detail.Attachments, 3)

	status, _ = s.doJSON(t, nethttp.MethodPatch, ticketPath+"/state", technician, map[string]string{"state": "RESUELTO", "note": "papel retirado"})
	require.Equal(t, nethttp.StatusOK, status)

	form := url.Values{}
	form.Set("ticket_id", id)
	form.Set("p2", "3")
	form.Set("speed", "5")
	form.Set("identification", "si")
	form.Set("suggestions", "ninguna")
	req := httptest.NewRequest(nethttp.MethodPost, "/api/requester/surveys", strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	status, env, _ = s.do(t, req, requester)
	require.Equal(t, nethttp.StatusCreated, status, string(env.Data))
	survey := decode[struct {
		TicketID int64  `json:"ticket_id"`
		P2       *int   `json:"p2"`
		Speed    *int   `json:"speed"`
		Attended string `json:"attended"`
	}](t, env.Data)
	assert.Equal(t, created.ID, survey.TicketID)
	require.NotNil(t, survey.P2)
	assert.Equal(t, 3, *survey.P2)
	require.NotNil(t, survey.Speed)
	assert.Equal(t, 5, *survey.Speed)
	assert.Equal(t, domain.AttendedYes, survey.Attended)
}
