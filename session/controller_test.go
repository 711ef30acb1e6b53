package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-console/apiclient"
	autherrors "github.com/jrsteele09/go-auth-console/internal/errors"
	"github.com/jrsteele09/go-auth-console/internal/utils"
	"github.com/jrsteele09/go-auth-console/session"
	"github.com/jrsteele09/go-auth-console/tokenstore"
)

const (
	testEmail    = "a@b.com"
	testPassword = "secret123"
)

// testFixture holds a mock backend and a controller wired to it
type testFixture struct {
	mux        *http.ServeMux
	server     *httptest.Server
	store      *tokenstore.Store
	client     *apiclient.Client
	controller *session.Controller
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{mux: http.NewServeMux()}
	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	store, err := tokenstore.New(tokenstore.NewMemoryBackend(), tokenstore.Keys{Access: "access", Refresh: "refresh"},
		tokenstore.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	f.store = store

	client, err := apiclient.New(f.server.URL+"/api", store, apiclient.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	f.client = client

	controller, err := session.NewController(client, session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	f.controller = controller
	return f
}

func (f *testFixture) handle(pattern string, status int, body any) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, body)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func futureToken(t *testing.T) string {
	t.Helper()

	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"id":  1,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestNewController_RequiresClient(t *testing.T) {
	_, err := session.NewController(nil)
	require.Error(t, err)
}

func TestController_InitialState(t *testing.T) {
	f := setupTestFixture(t)

	snap := f.controller.Snapshot()
	require.Equal(t, session.Uninitialized, snap.State)
	require.Nil(t, snap.Identity)
	require.False(t, snap.Loading)
	require.False(t, snap.Initialized)
	require.Zero(t, snap.Version)
}

func TestBootstrap_Success(t *testing.T) {
	f := setupTestFixture(t)
	f.handle("GET /api/developer/me", http.StatusOK, map[string]any{
		"developer": map[string]any{"id": 1, "email": testEmail},
	})

	snap := f.controller.Bootstrap(context.Background())

	require.Equal(t, session.Authenticated, snap.State)
	require.NotNil(t, snap.Identity)
	require.Equal(t, session.DeveloperID("1"), snap.Identity.ID)
	require.Equal(t, testEmail, snap.Identity.Email)
	require.False(t, snap.Loading)
	require.True(t, snap.Initialized)
	require.True(t, snap.Authenticated())
	require.Equal(t, snap, f.controller.Snapshot())
}

func TestBootstrap_BareIdentity(t *testing.T) {
	f := setupTestFixture(t)
	f.handle("GET /api/developer/me", http.StatusOK, map[string]any{
		"id": "dev-7", "name": "Dev Seven", "plan": "pro",
	})

	snap := f.controller.Bootstrap(context.Background())

	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, session.DeveloperID("dev-7"), snap.Identity.ID)
	require.Equal(t, "pro", snap.Identity.Extra["plan"])
}

func TestBootstrap_FailureEndsUnauthenticated(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
	}{
		{"unauthorized", http.StatusUnauthorized, map[string]any{"message": "Not authenticated"}},
		{"server error", http.StatusInternalServerError, map[string]any{"error": "boom"}},
		{"empty identity", http.StatusOK, map[string]any{"developer": nil}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.handle("GET /api/developer/me", tc.status, tc.body)
			f.store.SetAccessToken("access-1")
			f.store.SetRefreshToken("refresh-1")

			snap := f.controller.Bootstrap(context.Background())

			require.Nil(t, snap.Identity)
			require.False(t, snap.Loading)
			require.True(t, snap.Initialized)
			require.Equal(t, session.Unauthenticated, snap.State)
			require.Empty(t, f.store.AccessToken())
			require.Empty(t, f.store.RefreshToken())
		})
	}
}

func TestBootstrap_TransportFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.server.Close()
	f.store.SetAccessToken("access-1")

	snap := f.controller.Bootstrap(context.Background())

	require.Nil(t, snap.Identity)
	require.False(t, snap.Loading)
	require.True(t, snap.Initialized)
	require.Equal(t, session.Unauthenticated, snap.State)
	require.Empty(t, f.store.AccessToken())
}

func TestBootstrap_ConcurrentCallsShareOneRequest(t *testing.T) {
	f := setupTestFixture(t)

	var requests atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	f.mux.HandleFunc("GET /api/developer/me", func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			close(entered)
		}
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"developer": map[string]any{"id": 1}})
	})

	const callers = 5
	results := make([]session.Snapshot, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = f.controller.Bootstrap(context.Background())
	}()
	<-entered

	inFlight := f.controller.Snapshot()
	require.True(t, inFlight.Loading)
	require.Equal(t, session.Bootstrapping, inFlight.State)

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.controller.Bootstrap(context.Background())
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), requests.Load())
	for _, snap := range results {
		require.Equal(t, results[0], snap)
		require.Equal(t, session.Authenticated, snap.State)
	}
}

func TestLogin_Success(t *testing.T) {
	f := setupTestFixture(t)
	token := futureToken(t)

	var loginBody session.Credentials
	f.mux.HandleFunc("POST /api/developer/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&loginBody))
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        token,
			"refreshToken": "refresh-1",
			"developer":    map[string]any{"id": 1, "email": testEmail},
		})
	})
	var meAuth string
	f.mux.HandleFunc("GET /api/developer/me", func(w http.ResponseWriter, r *http.Request) {
		meAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"developer": map[string]any{
			"id": 1, "email": testEmail, "name": "Alice", "emailVerified": true,
		}})
	})

	identity, err := f.controller.Login(context.Background(), session.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	require.Equal(t, session.Credentials{Email: testEmail, Password: testPassword}, loginBody)
	require.Equal(t, "Bearer "+token, meAuth)
	require.Equal(t, "Alice", identity.Name)
	require.True(t, identity.EmailVerified)
	require.Equal(t, token, f.store.AccessToken())
	require.Equal(t, "refresh-1", f.store.RefreshToken())

	snap := f.controller.Snapshot()
	require.Equal(t, session.Authenticated, snap.State)
	require.False(t, snap.Loading)
	require.True(t, snap.Initialized)
	require.Equal(t, identity, snap.Identity)
	require.Equal(t, session.AccessGranted, session.Evaluate(snap, f.store))
}

func TestLogin_FallsBackToLoginPayload(t *testing.T) {
	f := setupTestFixture(t)
	f.handle("POST /api/developer/login", http.StatusOK, map[string]any{
		"developer": map[string]any{"id": 9, "email": testEmail},
	})
	f.handle("GET /api/developer/me", http.StatusInternalServerError, map[string]any{"error": "down"})

	identity, err := f.controller.Login(context.Background(), session.Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, session.DeveloperID("9"), identity.ID)
	require.Equal(t, session.Authenticated, f.controller.Snapshot().State)
}

func TestLogin_EmailNotVerified(t *testing.T) {
	f := setupTestFixture(t)
	f.handle("POST /api/developer/login", http.StatusBadRequest, map[string]any{
		"error":   "EMAIL_NOT_VERIFIED",
		"message": "Please verify your email",
		"data":    map[string]any{"email": testEmail},
	})

	identity, err := f.controller.Login(context.Background(), session.Credentials{Email: testEmail, Password: testPassword})
	require.Error(t, err)
	require.Nil(t, identity)

	var apiErr *apiclient.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "EMAIL_NOT_VERIFIED", apiErr.Code)
	require.Equal(t, apiclient.KindEmailNotVerified, apiErr.Kind)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "Please verify your email", apiErr.Message)
	require.ErrorIs(t, err, autherrors.ErrEmailNotVerified)

	snap := f.controller.Snapshot()
	require.Nil(t, snap.Identity)
	require.False(t, snap.Loading)
	require.Equal(t, session.Uninitialized, snap.State)
}

func TestLogin_NoIdentityAnywhere(t *testing.T) {
	f := setupTestFixture(t)
	f.handle("POST /api/developer/login", http.StatusOK, map[string]any{"ok": true})
	f.handle("GET /api/developer/me", http.StatusNotFound, map[string]any{})

	_, err := f.controller.Login(context.Background(), session.Credentials{Email: testEmail, Password: testPassword})
	require.Error(t, err)
	require.Nil(t, f.controller.Snapshot().Identity)
	require.False(t, f.controller.Snapshot().Loading)
}

func TestRegister_ReturnsResponseWithoutStateChange(t *testing.T) {
	f := setupTestFixture(t)
	var got session.Registration
	f.mux.HandleFunc("POST /api/developer/register", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, map[string]any{"message": "Check your inbox"})
	})

	registration := session.Registration{Name: "Alice", Username: "alice", Email: testEmail, Password: testPassword, PolicyAccepted: true}
	resp, err := f.controller.Register(context.Background(), registration)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.JSONEq(t, `{"message":"Check your inbox"}`, resp.Text())
	require.Equal(t, registration, got)

	snap := f.controller.Snapshot()
	require.Zero(t, snap.Version)
	require.Nil(t, snap.Identity)
	require.Empty(t, f.store.AccessToken())
}

func TestRegister_PropagatesErrors(t *testing.T) {
	f := setupTestFixture(t)
	f.handle("POST /api/developer/register", http.StatusConflict, map[string]any{"message": "Email already registered"})

	_, err := f.controller.Register(context.Background(), session.Registration{Email: testEmail})
	require.EqualError(t, err, "Email already registered")
}

func TestLogout(t *testing.T) {
	t.Run("backend accepts", func(t *testing.T) {
		f := setupTestFixture(t)
		f.handle("GET /api/developer/me", http.StatusOK, map[string]any{"developer": map[string]any{"id": 1}})
		var logoutCalls atomic.Int32
		f.mux.HandleFunc("POST /api/developer/logout", func(w http.ResponseWriter, r *http.Request) {
			logoutCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{})
		})
		f.store.SetAccessToken("access-1")
		f.controller.Bootstrap(context.Background())

		f.controller.Logout(context.Background())

		require.Equal(t, int32(1), logoutCalls.Load())
		snap := f.controller.Snapshot()
		require.Nil(t, snap.Identity)
		require.Equal(t, session.Unauthenticated, snap.State)
		require.Empty(t, f.store.AccessToken())
	})

	t.Run("backend unreachable", func(t *testing.T) {
		f := setupTestFixture(t)
		f.handle("GET /api/developer/me", http.StatusOK, map[string]any{"developer": map[string]any{"id": 1}})
		f.controller.Bootstrap(context.Background())
		f.store.SetAccessToken("access-1")
		f.store.SetRefreshToken("refresh-1")
		f.server.Close()

		require.NotPanics(t, func() { f.controller.Logout(context.Background()) })

		snap := f.controller.Snapshot()
		require.Nil(t, snap.Identity)
		require.False(t, snap.Loading)
		require.Equal(t, session.Unauthenticated, snap.State)
		require.Empty(t, f.store.AccessToken())
		require.Empty(t, f.store.RefreshToken())
	})
}

func TestUpdateIdentity(t *testing.T) {
	f := setupTestFixture(t)

	require.False(t, f.controller.UpdateIdentity(session.IdentityPatch{Name: utils.Ptr("Nobody")}))
	require.Nil(t, f.controller.Snapshot().Identity)

	f.handle("GET /api/developer/me", http.StatusOK, map[string]any{"developer": map[string]any{
		"id": 1, "email": testEmail, "name": "Alice", "username": "alice", "plan": "free",
	}})
	before := f.controller.Bootstrap(context.Background())

	require.True(t, f.controller.UpdateIdentity(session.IdentityPatch{
		Name:       utils.Ptr("Alice Liddell"),
		IsVerified: utils.Ptr(true),
		Extra:      map[string]any{"plan": "pro"},
	}))

	after := f.controller.Snapshot()
	require.Equal(t, "Alice Liddell", after.Identity.Name)
	require.Equal(t, "alice", after.Identity.Username)
	require.Equal(t, testEmail, after.Identity.Email)
	require.True(t, after.Identity.IsVerified)
	require.Equal(t, "pro", after.Identity.Extra["plan"])
	require.Greater(t, after.Version, before.Version)

	// Earlier snapshots are not affected by the merge.
	require.Equal(t, "Alice", before.Identity.Name)
	require.Equal(t, "free", before.Identity.Extra["plan"])
}

func TestSubscribe(t *testing.T) {
	f := setupTestFixture(t)
	f.handle("GET /api/developer/me", http.StatusOK, map[string]any{"developer": map[string]any{"id": 1}})

	var mu sync.Mutex
	var seen []session.Snapshot
	unsubscribe := f.controller.Subscribe(func(s session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	var otherCalls atomic.Int32
	unsubscribeOther := f.controller.Subscribe(func(session.Snapshot) { otherCalls.Add(1) })
	unsubscribeOther()
	unsubscribeOther()

	f.controller.Bootstrap(context.Background())

	mu.Lock()
	require.Len(t, seen, 2)
	require.True(t, seen[0].Loading)
	require.Equal(t, session.Bootstrapping, seen[0].State)
	require.Equal(t, session.Authenticated, seen[1].State)
	require.Less(t, seen[0].Version, seen[1].Version)
	mu.Unlock()
	require.Zero(t, otherCalls.Load())

	unsubscribe()
	f.controller.UpdateIdentity(session.IdentityPatch{Name: utils.Ptr("x")})

	mu.Lock()
	require.Len(t, seen, 2)
	mu.Unlock()

	require.NotPanics(t, func() { f.controller.Subscribe(nil)() })
}

func TestRefresh(t *testing.T) {
	t.Run("no refresh token", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.controller.Refresh(context.Background())
		require.ErrorIs(t, err, autherrors.ErrNoRefreshToken)
	})

	t.Run("rotates the pair", func(t *testing.T) {
		f := setupTestFixture(t)
		token := futureToken(t)
		var sent map[string]string
		f.mux.HandleFunc("POST /api/developer/refresh-token", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
			writeJSON(w, http.StatusOK, map[string]any{"token": token, "refreshToken": "refresh-2"})
		})
		f.store.SetRefreshToken("refresh-1")

		result, err := f.controller.Refresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, "refresh-1", sent["refreshToken"])
		require.Equal(t, token, result.AccessToken)
		require.Equal(t, "refresh-2", result.RefreshToken)
		require.True(t, result.Valid())
		require.Equal(t, token, f.store.AccessToken())
		require.Equal(t, "refresh-2", f.store.RefreshToken())
	})

	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		f := setupTestFixture(t)
		f.handle("POST /api/developer/refresh-token", http.StatusOK, map[string]any{"accessToken": "opaque"})
		f.store.SetRefreshToken("refresh-1")

		result, err := f.controller.Refresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, "opaque", result.AccessToken)
		require.True(t, result.Expiry.IsZero())
		require.Equal(t, "refresh-1", f.store.RefreshToken())
	})

	t.Run("response without token", func(t *testing.T) {
		f := setupTestFixture(t)
		f.handle("POST /api/developer/refresh-token", http.StatusOK, map[string]any{})
		f.store.SetRefreshToken("refresh-1")

		_, err := f.controller.Refresh(context.Background())
		require.ErrorIs(t, err, autherrors.ErrInvalidRefreshToken)
	})

	t.Run("rejected refresh clears tokens", func(t *testing.T) {
		f := setupTestFixture(t)
		f.handle("POST /api/developer/refresh-token", http.StatusUnauthorized, map[string]any{"error": "invalid refresh token"})
		f.store.SetRefreshToken("refresh-1")

		_, err := f.controller.Refresh(context.Background())
		require.True(t, errors.Is(err, autherrors.ErrUnauthorized))
		require.Empty(t, f.store.RefreshToken())
	})
}

func TestVerifyEmail(t *testing.T) {
	f := setupTestFixture(t)
	var token string
	f.mux.HandleFunc("GET /api/developer/verify", func(w http.ResponseWriter, r *http.Request) {
		token = r.URL.Query().Get("token")
		writeJSON(w, http.StatusOK, map[string]any{"message": "Email verified"})
	})

	resp, err := f.controller.VerifyEmail(context.Background(), "tok&en")
	require.NoError(t, err)
	require.Equal(t, "tok&en", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = f.controller.VerifyEmail(context.Background(), "")
	require.Error(t, err)
}

func TestResendVerification(t *testing.T) {
	f := setupTestFixture(t)
	var body map[string]string
	f.mux.HandleFunc("POST /api/developer/resend-verification", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	_, err := f.controller.ResendVerification(context.Background(), testEmail)
	require.NoError(t, err)
	require.Equal(t, testEmail, body["email"])

	_, err = f.controller.ResendVerification(context.Background(), "")
	require.Error(t, err)
}
