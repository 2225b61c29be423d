package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelBoost/app/models"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/billing/billingtest"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/s3store"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/upscale"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/usercontext"
)

type memoryHistory struct {
	mu     sync.Mutex
	rows   []*models.UpscaleHistory
	nextID uint
}

func (m *memoryHistory) Create(entry *models.UpscaleHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	entry.CreatedAt = time.Now()
	cp := *entry
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memoryHistory) GetByJobID(jobID string) (*models.UpscaleHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.JobID == jobID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryHistory) ListByUserID(userID string, limit int) ([]models.UpscaleHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UpscaleHistory
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryHistory) Update(entry *models.UpscaleHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ID == entry.ID {
			cp := *entry
			m.rows[i] = &cp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memoryHistory) UpdateStatusByJobID(jobID, status, resultURL, errorMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.JobID == jobID {
			r.Status = status
			if resultURL != "" {
				r.ResultURL = resultURL
			}
			if errorMessage != "" {
				r.ErrorMessage = errorMessage
			}
			return true, nil
		}
	}
	return false, nil
}

type fakeProvider struct {
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Upscale(_ context.Context, img *upscale.Image) (*upscale.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	w, h := img.TargetSize()
	return &upscale.Result{Data: []byte("big-image"), ContentType: "image/png", Width: w, Height: h}, nil
}

type fakeStore struct {
	keys []string
	err  error
}

func (s *fakeStore) PutObject(_ context.Context, key string, data []byte, _ map[string]string) (*s3store.UploadResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.keys = append(s.keys, key)
	return &s3store.UploadResult{ObjectKey: key, Size: int64(len(data)), URL: "https://cdn.example/" + key}, nil
}

func (s *fakeStore) Config() *s3store.Config { return &s3store.Config{Prefix: "upscale", Enabled: true} }

type upscaleFixture struct {
	app      *fiber.App
	repo     *billingtest.MemoryRepository
	svc      *billing.Service
	history  *memoryHistory
	provider *fakeProvider
}

func newUpscaleFixture(t *testing.T, store ObjectStore) *upscaleFixture {
	t.Helper()
	repo := billingtest.NewMemoryRepository()
	svc := billing.NewService(repo, billing.Config{})
	history := &memoryHistory{}
	provider := &fakeProvider{}
	uc := NewUpscaleController(svc, provider, history, store, nil, 1)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if uid := c.Get("X-Test-User"); uid != "" {
			c.Locals(usercontext.LocalsKey, usercontext.UserContext{UserID: uid, IsLoggedIn: true})
		}
		return c.Next()
	})
	app.Post("/api/v1/upscale", uc.HandleUpscale)
	app.Get("/api/v1/upscale/history", uc.HandleUpscaleHistory)
	app.Post("/webhooks/upscale", uc.HandleUpscaleCallback)
	return &upscaleFixture{app: app, repo: repo, svc: svc, history: history, provider: provider}
}

func (f *upscaleFixture) grant(t *testing.T, userID string, n int) {
	t.Helper()
	_, err := f.repo.ApplyCreditEntry(&models.CreditLedgerEntry{
		UserID: userID, Provider: models.BillingProviderInternal, ProviderEventID: "seed:" + userID, Reason: models.CreditReasonPurchase, Delta: n,
	})
	require.NoError(t, err)
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 8))))
	return upscale.DataURL("image/png", buf.Bytes())
}

func (f *upscaleFixture) post(t *testing.T, userID string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/upscale", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode, decodeBody(t, resp)
}

func TestHandleUpscale_SpendsCreditAndReturnsDataURL(t *testing.T) {
	f := newUpscaleFixture(t, nil)
	f.grant(t, "user_1", 2)

	status, body := f.post(t, "user_1", upscale.Request{ImageData: pngDataURL(t), Filename: "cat.png"})

	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.True(t, strings.HasPrefix(body["upscaledUrl"].(string), "data:image/png;base64,"))
	assert.Equal(t, "fake", body["provider"])
	assert.Equal(t, float64(1), body["creditsRemaining"])
	assert.NotContains(t, body, "originalUrl")
	assert.Equal(t, 1, f.repo.Balance("user_1"))

	rows, _ := f.history.ListByUserID("user_1", 50)
	require.Len(t, rows, 1)
	assert.Equal(t, models.UpscaleStatusCompleted, rows[0].Status)
	assert.Equal(t, body["jobId"], rows[0].JobID)
	assert.Empty(t, rows[0].ResultURL)
}

func TestHandleUpscale_StoresInObjectStore(t *testing.T) {
	store := &fakeStore{}
	f := newUpscaleFixture(t, store)
	f.grant(t, "user_1", 1)

	status, body := f.post(t, "user_1", upscale.Request{ImageData: pngDataURL(t), Filename: "cat.png"})

	require.Equal(t, fiber.StatusOK, status, body)
	require.Len(t, store.keys, 2)
	assert.Contains(t, store.keys[0], "upscale/original/")
	assert.Contains(t, store.keys[1], "upscale/result/")
	assert.Equal(t, "https://cdn.example/"+store.keys[1], body["upscaledUrl"])
	assert.Equal(t, "https://cdn.example/"+store.keys[0], body["originalUrl"])

	rows, _ := f.history.ListByUserID("user_1", 50)
	require.Len(t, rows, 1)
	assert.Equal(t, store.keys[1], rows[0].ResultKey)
	assert.Equal(t, body["upscaledUrl"], rows[0].ResultURL)
}

func TestHandleUpscale_InsufficientCredits(t *testing.T) {
	f := newUpscaleFixture(t, nil)

	status, body := f.post(t, "user_poor", upscale.Request{ImageData: pngDataURL(t), Filename: "cat.png"})

	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, float64(0), body["credits"])
	assert.Equal(t, 0, f.provider.calls)
}

func TestHandleUpscale_ProviderFailureRefunds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"rate limited", upscale.ErrRateLimited, fiber.StatusTooManyRequests},
		{"vendor rejected image", errors.Join(upscale.ErrInvalidImage, errors.New("too small")), fiber.StatusUnprocessableEntity},
		{"vendor down", upscale.ErrVendor, fiber.StatusBadGateway},
		{"not configured", upscale.ErrNotConfigured, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUpscaleFixture(t, nil)
			f.grant(t, "user_1", 1)
			f.provider.err = tt.err

			status, body := f.post(t, "user_1", upscale.Request{ImageData: pngDataURL(t), Filename: "cat.png"})

			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, body["jobId"])
			assert.Equal(t, 1, f.repo.Balance("user_1"), "credit must be refunded")

			rows, _ := f.history.ListByUserID("user_1", 50)
			require.Len(t, rows, 1)
			assert.Equal(t, models.UpscaleStatusFailed, rows[0].Status)
			assert.NotEmpty(t, rows[0].ErrorMessage)
		})
	}
}

func TestHandleUpscale_BadRequests(t *testing.T) {
	f := newUpscaleFixture(t, nil)
	f.grant(t, "user_1", 5)

	status, _ := f.post(t, "", upscale.Request{ImageData: pngDataURL(t), Filename: "cat.png"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := f.post(t, "user_1", upscale.Request{Filename: "cat.png"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "imageData is required", body["error"])

	status, _ = f.post(t, "user_1", upscale.Request{ImageData: "aGVsbG8=", Filename: "cat.png"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	assert.Equal(t, 5, f.repo.Balance("user_1"))
	assert.Equal(t, 0, f.provider.calls)
}

func TestHandleUpscaleHistory(t *testing.T) {
	f := newUpscaleFixture(t, nil)
	require.NoError(t, f.history.Create(&models.UpscaleHistory{UserID: "user_1", JobID: "a", Status: models.UpscaleStatusCompleted}))
	require.NoError(t, f.history.Create(&models.UpscaleHistory{UserID: "user_1", JobID: "b", Status: models.UpscaleStatusFailed}))
	require.NoError(t, f.history.Create(&models.UpscaleHistory{UserID: "user_2", JobID: "c"}))

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/upscale/history", nil)
	req.Header.Set("X-Test-User", "user_1")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		History []models.UpscaleHistory `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.History, 2)
	assert.Equal(t, "b", body.History[0].JobID)
	assert.Equal(t, "a", body.History[1].JobID)
}

func TestHandleUpscaleCallback(t *testing.T) {
	f := newUpscaleFixture(t, nil)
	require.NoError(t, f.history.Create(&models.UpscaleHistory{UserID: "user_1", JobID: "job_1", Status: models.UpscaleStatusProcessing}))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"completed", `{"job_id":"job_1","status":"completed","upscaled_url":"https://cdn.example/x.png"}`, fiber.StatusOK},
		{"unknown job", `{"job_id":"job_x","status":"completed"}`, fiber.StatusOK},
		{"other status", `{"job_id":"job_1","status":"queued"}`, fiber.StatusOK},
		{"failed", `{"job_id":"job_1","status":"failed","error":"boom"}`, fiber.StatusInternalServerError},
		{"missing job id", `{"status":"completed"}`, fiber.StatusBadRequest},
		{"unparseable", `{`, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodPost, "/webhooks/upscale", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := f.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	row, err := f.history.GetByJobID("job_1")
	require.NoError(t, err)
	assert.Equal(t, models.UpscaleStatusFailed, row.Status)
	assert.Equal(t, "https://cdn.example/x.png", row.ResultURL)
	assert.Equal(t, "boom", row.ErrorMessage)
}
