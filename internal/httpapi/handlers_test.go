package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/assignment"
	"channelhub/backend/internal/cache"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/notify"
	"channelhub/backend/internal/service"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/store/memory"
)

const seedPassword = "changeme123"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded(nil)
	resolver := assignment.NewResolver(repo, cache.NoopAssignmentCache{}, time.Minute, nil)
	svc := service.New(repo, resolver, &notify.Recorder{}, nil, nil, service.Options{RootAdminUsername: "admin"})
	auth := NewAuthManager("test-secret-key", time.Hour, svc)

	return New(svc, auth, "*", nil)
}

type client struct {
	t     *testing.T
	api   *API
	token string
	csrf  string
}

func newClient(t *testing.T, api *API, username string) *client {
	t.Helper()
	return &client{t: t, api: api, token: login(t, api, username), csrf: fetchCSRFToken(t, api)}
}

func (c *client) do(method string, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	res := httptest.NewRecorder()
	c.api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out), res.Body.String())
	return out
}

func requireStatus(t *testing.T, res *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, res.Code, res.Body.String())
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	requireStatus(t, rec, http.StatusOK)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	c := &client{t: t, api: api}

	res := c.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "North", Password: seedPassword})

	requireStatus(t, res, http.StatusOK)
	resp := decodeBody[domain.LoginResponse](t, res)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, domain.RoleSupervisor, resp.Role)

	actor, err := api.auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, memory.SeedSupervisorID, actor.UserID)
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	c := &client{t: t, api: api}

	res := c.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "admin", Password: "wrong-pass"})
	requireStatus(t, res, http.StatusUnauthorized)

	res = c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin"})
	requireStatus(t, res, http.StatusBadRequest)
	body := decodeBody[map[string]string](t, res)
	assert.Equal(t, string(apperr.InvalidInput), body["kind"])
	assert.Contains(t, body["error"], "password")
}

func TestRoutesRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	c := &client{t: t, api: api}

	requireStatus(t, c.do(http.MethodGet, "/api/v1/products", nil), http.StatusUnauthorized)

	c.token = "not-a-token"
	requireStatus(t, c.do(http.MethodGet, "/api/v1/me", nil), http.StatusUnauthorized)
}

func TestRoleGates(t *testing.T) {
	api := newTestAPI(t)
	fos := newClient(t, api, "ravi")
	tech := newClient(t, api, "arun")

	res := fos.do(http.MethodPost, "/api/v1/operators", domain.OperatorCreateRequest{Name: "Vi"})
	requireStatus(t, res, http.StatusForbidden)
	assert.Equal(t, string(apperr.Unauthorized), decodeBody[map[string]string](t, res)["kind"])

	requireStatus(t, tech.do(http.MethodPost, "/api/v1/collections", domain.CollectRequest{
		FromID: memory.SeedRetailerID, Channel: domain.ChannelEC,
	}), http.StatusForbidden)
	requireStatus(t, tech.do(http.MethodPost, "/api/v1/units/transfers", domain.UnitTransferRequest{
		Serials: []string{"X"}, ToID: memory.SeedSupervisorID,
	}), http.StatusForbidden)

	me := tech.do(http.MethodGet, "/api/v1/me", nil)
	requireStatus(t, me, http.StatusOK)
	assert.Equal(t, memory.SeedTechnicianID, decodeBody[domain.User](t, me).ID)
}

func TestAdminProvisioning(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin")

	res := admin.do(http.MethodPost, "/api/v1/operators", domain.OperatorCreateRequest{Name: "Vi"})
	requireStatus(t, res, http.StatusCreated)
	vi := decodeBody[domain.Operator](t, res)

	res = admin.do(http.MethodPost, "/api/v1/mappings/fos-operator", domain.FosOperatorMapRequest{
		FosID: memory.SeedFosID, OperatorID: vi.ID,
	})
	requireStatus(t, res, http.StatusOK)

	res = admin.do(http.MethodGet, "/api/v1/mappings/fos/"+memory.SeedFosID+"/operators", nil)
	requireStatus(t, res, http.StatusOK)
	operators := decodeBody[map[string][]domain.Operator](t, res)["operators"]
	names := make([]string, 0, len(operators))
	for _, op := range operators {
		names = append(names, op.Name)
	}
	assert.Contains(t, names, "Vi")

	res = admin.do(http.MethodPost, "/api/v1/users", domain.UserCreateRequest{
		Username: "x", Name: "Too Short", Role: domain.RoleFOS, Password: "secret1",
	})
	requireStatus(t, res, http.StatusBadRequest)
	assert.Contains(t, decodeBody[map[string]string](t, res)["error"], "username failed on min")

	res = admin.do(http.MethodGet, "/api/v1/users?role=technician", nil)
	requireStatus(t, res, http.StatusOK)
	assert.Len(t, decodeBody[map[string][]domain.User](t, res)["users"], 2)
}

func TestCollectEndpointMapsErrors(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin")
	fos := newClient(t, api, "ravi")

	res := admin.do(http.MethodPost, "/api/v1/wallets/sales", map[string]any{
		"holder_id": memory.SeedRetailerID, "operator_id": memory.SeedOperatorJioID, "channel": "ec", "amount": "1000",
	})
	requireStatus(t, res, http.StatusCreated)

	res = fos.do(http.MethodPost, "/api/v1/collections", map[string]any{
		"from_id": memory.SeedRetailerID, "channel": "ec", "amount": "1500",
	})
	requireStatus(t, res, http.StatusUnprocessableEntity)
	assert.Equal(t, string(apperr.ExceedsPending), decodeBody[map[string]string](t, res)["kind"])

	res = fos.do(http.MethodPost, "/api/v1/collections", map[string]any{
		"from_id": memory.SeedRetailerID, "channel": "ec", "amount": "600", "remarks": "cash",
	})
	requireStatus(t, res, http.StatusCreated)
	result := decodeBody[domain.CollectResult](t, res)
	assert.Equal(t, "600", result.Total.String())

	res = fos.do(http.MethodGet, "/api/v1/collections/pending?channel=ec", nil)
	requireStatus(t, res, http.StatusOK)
	debtors := decodeBody[map[string][]domain.PendingDebtor](t, res)["debtors"]
	require.Len(t, debtors, 1)
	assert.Equal(t, "400", debtors[0].Total.String())

	res = fos.do(http.MethodPost, "/api/v1/collections", map[string]any{
		"from_id": memory.SeedRetailerID, "channel": "voucher", "amount": "1",
	})
	requireStatus(t, res, http.StatusBadRequest)
}

func TestWorkOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	sup := newClient(t, api, "north")
	tech := newClient(t, api, "arun")
	admin := newClient(t, api, "admin")

	res := sup.do(http.MethodPost, "/api/v1/work-orders", map[string]any{
		"customer_name": "Meena Iyer", "mobile_no": "9811111111", "pincode": "560001", "amount": 500,
	})
	requireStatus(t, res, http.StatusCreated)
	order := decodeBody[domain.WorkOrder](t, res)
	assert.Equal(t, memory.SeedSupervisorID, order.SupervisorID)
	base := "/api/v1/work-orders/" + order.ID

	requireStatus(t, sup.do(http.MethodPost, base+"/assign", domain.AssignRequest{TechnicianID: memory.SeedTechnicianID}), http.StatusOK)

	res = sup.do(http.MethodPost, base+"/close", domain.WorkCloseRequest{})
	requireStatus(t, res, http.StatusBadRequest)
	assert.Equal(t, string(apperr.OtpMissing), decodeBody[map[string]string](t, res)["kind"])

	requireStatus(t, tech.do(http.MethodPost, base+"/otp", nil), http.StatusOK)

	res = admin.do(http.MethodGet, "/api/v1/otps", nil)
	requireStatus(t, res, http.StatusOK)
	otps := decodeBody[map[string][]domain.OtpEntry](t, res)["otps"]
	require.Len(t, otps, 1)
	requireStatus(t, tech.do(http.MethodGet, "/api/v1/otps", nil), http.StatusForbidden)

	res = sup.do(http.MethodPost, base+"/close", map[string]any{"otp": otps[0].OTP, "collected_amount": "500"})
	requireStatus(t, res, http.StatusOK)
	report := decodeBody[domain.WorkReport](t, res)
	assert.Equal(t, order.ID, report.WorkOrderID)

	res = sup.do(http.MethodPost, base+"/cancel", domain.CancelRequest{Reason: "late"})
	requireStatus(t, res, http.StatusBadRequest)
	assert.Equal(t, string(apperr.InvalidState), decodeBody[map[string]string](t, res)["kind"])

	requireStatus(t, sup.do(http.MethodGet, base+"/report", nil), http.StatusOK)
	requireStatus(t, sup.do(http.MethodGet, "/api/v1/work-orders/wo-missing", nil), http.StatusNotFound)
	requireStatus(t, sup.do(http.MethodPost, "/api/v1/cash/transfers/ct-1/approve", nil), http.StatusNotFound)
}

func TestImportEndpointReadsRawCSV(t *testing.T) {
	api := newTestAPI(t)
	fos := newClient(t, api, "ravi")
	csvBody := "Order ID,Order Date,Partner ID,Partner Name,Transfer Amount,Commission,Amount Without Commission\n" +
		"EC-1,09.03.2026,P1,Sharma Mobiles,500,10,490\n"

	res := fos.do(http.MethodPost, fmt.Sprintf("/api/v1/imports/ec-sales?fos_id=%s&operator_id=%s&filename=march.csv",
		memory.SeedFosID, memory.SeedOperatorJioID), csvBody)
	requireStatus(t, res, http.StatusOK)
	result := decodeBody[domain.ImportResult](t, res)
	assert.Equal(t, 1, result.Success)
	assert.Empty(t, result.Errors)

	res = fos.do(http.MethodGet, "/api/v1/wallets?holder_id="+memory.SeedRetailerID, nil)
	requireStatus(t, res, http.StatusOK)
	wallets := decodeBody[map[string][]domain.Wallet](t, res)["wallets"]
	require.Len(t, wallets, 1)
	assert.Equal(t, "490", wallets[0].PendingAmount.String())

	res = fos.do(http.MethodPost, "/api/v1/imports/ec-sales?fos_id="+memory.SeedFosID+"&operator_id="+memory.SeedOperatorJioID,
		strings.Repeat("x", maxImportBody+1))
	requireStatus(t, res, http.StatusRequestEntityTooLarge)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.NotFound, "x", "missing"), http.StatusNotFound},
		{apperr.New(apperr.Unauthorized, "x", "no"), http.StatusForbidden},
		{apperr.New(apperr.AlreadyProcessed, "x", "done"), http.StatusConflict},
		{apperr.New(apperr.DuplicateSerial, "x", "dup"), http.StatusConflict},
		{apperr.New(apperr.CountMismatch, "x", "count"), http.StatusBadRequest},
		{apperr.New(apperr.OtpMismatch, "x", "otp"), http.StatusBadRequest},
		{apperr.New(apperr.InsufficientBalance, "x", "low"), http.StatusUnprocessableEntity},
		{apperr.New(apperr.NotOwned, "x", "theirs"), http.StatusUnprocessableEntity},
		{fmt.Errorf("lookup: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	api := newTestAPI(t)
	res := httptest.NewRecorder()

	api.writeError(res, errors.New("pq: connection reset by peer"))

	requireStatus(t, res, http.StatusInternalServerError)
	body := decodeBody[map[string]string](t, res)
	assert.Equal(t, "internal server error", body["error"])
	assert.Empty(t, body["kind"])
}
