package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/internal/testutil"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/core/notify"
	"github.com/jakechorley/community-connect/pkg/db"
)

const testSecret = "test-secret"

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *testutil.MemDB
	sender *testutil.RecordingSender
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := testutil.NewMemDB()
	store.PutOrganization(db.Organization{ID: "org-1", Name: "Harbour Trust", Email: "host@harbour.org", NotificationFrequency: model.NotifyImmediate})
	store.PutOrganization(db.Organization{ID: "org-2", Name: "Park Friends", Email: "hello@parkfriends.org"})
	store.PutUser(db.User{ID: "user-1", FirstName: "Alice", LastName: "Smith", Email: "alice@example.com"})
	store.PutOpportunity(db.Opportunity{
		ID:             "opp-1",
		Title:          "Food bank",
		Date:           "2024-06-10",
		TotalSpots:     3,
		OrganizationID: "org-1",
	})

	sender := &testutil.RecordingSender{}
	dispatcher := notify.NewDispatcher(store, notify.NewStoreLedger(store), sender, "noreply@communityconnect.org", zap.NewNop())
	srv := NewServer(store, dispatcher, Options{JWTSecret: testSecret, HorizonMonths: 3}, zap.NewNop()).
		WithClock(func() time.Time { return testNow })

	server := httptest.NewServer(srv.Router())
	t.Cleanup(server.Close)

	return &testEnv{store: store, sender: sender, server: server}
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func volunteerToken(t *testing.T) string {
	return signToken(t, testSecret, Claims{
		Role:             RoleVolunteer,
		Email:            "alice@example.com",
		Name:             "Alice Smith",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
}

func orgToken(t *testing.T, orgID string) string {
	return signToken(t, testSecret, Claims{
		Role:             RoleOrganization,
		Email:            "host@harbour.org",
		Name:             "Harbour Trust",
		OrganizationID:   orgID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: orgID},
	})
}

func adminToken(t *testing.T) string {
	return signToken(t, testSecret, Claims{
		Role:             RoleAdmin,
		Email:            "admin@communityconnect.org",
		Name:             "Admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1"},
	})
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", "", nil)

	resp, err := env.server.Client().Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthenticate_RejectsMissingAndBadTokens(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodGet, "/api/opportunities/opp-1/family", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, out.Success)

	wrongKey := signToken(t, "other-secret", Claims{Role: RoleVolunteer, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	resp, _ = env.do(t, http.MethodGet, "/api/opportunities/opp-1/family", wrongKey, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired := signToken(t, testSecret, Claims{
		Role:             RoleVolunteer,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	resp, _ = env.do(t, http.MethodGet, "/api/opportunities/opp-1/family", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	unknownRole := signToken(t, testSecret, Claims{Role: "superuser", RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}})
	resp, _ = env.do(t, http.MethodGet, "/api/opportunities/opp-1/family", unknownRole, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestParseToken_OrganizationNeedsOrgID(t *testing.T) {
	token := signToken(t, testSecret, Claims{Role: RoleOrganization, RegisteredClaims: jwt.RegisteredClaims{Subject: "org-1"}})

	_, err := parseToken([]byte(testSecret), token)
	assert.Error(t, err)

	_, err = parseToken(nil, token)
	assert.Error(t, err)
}

func weeklyBody(orgID string) map[string]any {
	return map[string]any{
		"organizationId": orgID,
		"title":          "Beach clean",
		"description":    "Litter pick along the front",
		"category":       "Environment",
		"date":           "2024-06-03",
		"arrivalTime":    "09:00",
		"departureTime":  "12:00",
		"totalSpots":     10,
		"location":       "Pier",
		"isRecurring":    true,
		"frequency":      "weekly",
		"dayFilter":      []string{"Monday", "Thursday"},
	}
}

func TestCreateOpportunity_OrganizationCreatesFamily(t *testing.T) {
	env := newTestEnv(t)

	// The token's organization wins over the body
	resp, out := env.do(t, http.MethodPost, "/api/opportunities", orgToken(t, "org-1"), weeklyBody("org-2"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, out.Success)

	data := out.Data.(map[string]any)
	parent := data["parent"].(map[string]any)
	assert.Equal(t, "org-1", parent["organizationId"])
	assert.Equal(t, "2024-06-03", parent["date"])
	assert.Greater(t, data["count"].(float64), float64(1))

	org := env.store.Organization("org-1")
	assert.Len(t, org.OpportunityIDs, int(data["count"].(float64)))
}

func TestCreateOpportunity_VolunteerForbidden(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodPost, "/api/opportunities", volunteerToken(t), weeklyBody("org-1"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NOT_AUTHORIZED", out.Error.Code)
}

func TestCreateOpportunity_ValidationError(t *testing.T) {
	env := newTestEnv(t)
	body := weeklyBody("org-1")
	body["totalSpots"] = 0

	resp, out := env.do(t, http.MethodPost, "/api/opportunities", orgToken(t, "org-1"), body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", out.Error.Code)
}

func TestCreateOpportunity_UnknownFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	body := weeklyBody("org-1")
	body["spots"] = 4

	resp, _ := env.do(t, http.MethodPost, "/api/opportunities", orgToken(t, "org-1"), body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateOpportunity_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"title": "Food bank (evening)"}

	resp, _ := env.do(t, http.MethodPatch, "/api/opportunities/opp-1", orgToken(t, "org-2"), body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out := env.do(t, http.MethodPatch, "/api/opportunities/opp-1", orgToken(t, "org-1"), body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out.Data.(map[string]any)["updated"])
	assert.Equal(t, "Food bank (evening)", env.store.Opportunities()[0].Title)
}

func TestUpdateOpportunity_AdminActsForHost(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPatch, "/api/opportunities/opp-1", adminToken(t), map[string]any{"location": "Hall"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hall", env.store.Opportunities()[0].Location)
}

func putWeeklyFamily(env *testEnv) {
	env.store.PutOpportunity(db.Opportunity{ID: "fam-1", Title: "Beach clean", Date: "2024-06-03", TotalSpots: 5, OrganizationID: "org-1",
		IsRecurring: true, Frequency: model.RecurWeekly, DayFilter: []string{"Monday"}})
	env.store.PutOpportunity(db.Opportunity{ID: "fam-2", Title: "Beach clean", Date: "2024-06-10", TotalSpots: 5, OrganizationID: "org-1", ParentOpportunityID: "fam-1"})
	env.store.PutOpportunity(db.Opportunity{ID: "fam-3", Title: "Beach clean", Date: "2024-06-17", TotalSpots: 5, OrganizationID: "org-1", ParentOpportunityID: "fam-1"})
}

func TestUpdateOpportunity_SeriesScope(t *testing.T) {
	env := newTestEnv(t)
	putWeeklyFamily(env)

	resp, out := env.do(t, http.MethodPatch, "/api/opportunities/fam-2", orgToken(t, "org-1"),
		map[string]any{"title": "One-off", "cutoff": "2024-06-01"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out.Data.(map[string]any)["updated"])

	resp, out = env.do(t, http.MethodPatch, "/api/opportunities/fam-2", orgToken(t, "org-1"),
		map[string]any{"location": "North beach", "series": true, "cutoff": "2024-06-10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out.Data.(map[string]any)["updated"])

	for _, o := range env.store.Opportunities() {
		switch o.ID {
		case "fam-1":
			assert.Equal(t, "Beach clean", o.Title)
			assert.Empty(t, o.Location)
		case "fam-2":
			assert.Equal(t, "One-off", o.Title)
			assert.Equal(t, "North beach", o.Location)
		case "fam-3":
			assert.Equal(t, "Beach clean", o.Title)
			assert.Equal(t, "North beach", o.Location)
		}
	}
}

func TestUpdateOpportunity_BadCutoff(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPatch, "/api/opportunities/opp-1", orgToken(t, "org-1"), map[string]any{"title": "x", "cutoff": "June"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteOpportunity(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodDelete, "/api/opportunities/missing", orgToken(t, "org-1"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/opportunities/opp-1?family=maybe", orgToken(t, "org-1"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out := env.do(t, http.MethodDelete, "/api/opportunities/opp-1", orgToken(t, "org-1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out.Data.(map[string]any)["deleted"])
	assert.Empty(t, env.store.Opportunities())
}

func TestListFamily(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodGet, "/api/opportunities/opp-1/family", volunteerToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out.Data, 1)
}

func TestCommitAndUncommit(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/opportunities/opp-1/commitments", orgToken(t, "org-1"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out := env.do(t, http.MethodPost, "/api/opportunities/opp-1/commitments", volunteerToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out.Data.(map[string]any)["filledSpots"])
	assert.Len(t, env.store.User("user-1").Commitments, 1)

	resp, out = env.do(t, http.MethodPost, "/api/opportunities/opp-1/commitments", volunteerToken(t), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", out.Error.Code)

	resp, _ = env.do(t, http.MethodDelete, "/api/opportunities/opp-1/commitments", volunteerToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, env.store.User("user-1").Commitments)
}

func TestPostMessage_VolunteerNotifiesHost(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodPost, "/api/opportunities/opp-1/messages", volunteerToken(t), map[string]any{"text": "Is parking available?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := out.Data.(map[string]any)
	message := data["message"].(map[string]any)
	assert.Equal(t, "user", message["senderType"])
	assert.Equal(t, "Is parking available?", message["text"])

	notification := data["notification"].(map[string]any)
	assert.Equal(t, true, notification["success"])
	assert.Equal(t, []string{"host@harbour.org"}, env.sender.SentTo())
}

func TestPostMessage_AdminPostsAsHost(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodPost, "/api/opportunities/opp-1/messages", adminToken(t), map[string]any{"text": "Venue changed"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	message := out.Data.(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "admin_as_host", message["senderType"])
	assert.Equal(t, "Harbour Trust", message["senderName"])
	assert.Equal(t, "admin@communityconnect.org", message["actingAdminEmail"])
	assert.Equal(t, []string{"host@harbour.org"}, env.sender.SentTo())
}

func TestPostMessage_OrganizationMustHost(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodPost, "/api/opportunities/opp-1/messages", orgToken(t, "org-2"), map[string]any{"text": "Come to ours instead"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NOT_AUTHORIZED", out.Error.Code)
	assert.Empty(t, env.store.Messages())
	assert.Empty(t, env.sender.Sent)

	resp, _ = env.do(t, http.MethodPost, "/api/opportunities/opp-1/messages", orgToken(t, "org-1"), map[string]any{"text": "Bring gloves"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, env.store.Messages(), 1)
}

func TestPostMessage_EmptyText(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/opportunities/opp-1/messages", volunteerToken(t), map[string]any{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.store.Messages())
}

func TestWriteServiceError_HidesSystemDetail(t *testing.T) {
	rec := httptest.NewRecorder()

	writeServiceError(rec, zap.NewNop(), assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestRecoverer(t *testing.T) {
	handler := recoverer(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "SYSTEM_ERROR")
}
