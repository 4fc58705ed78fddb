package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/simonmoedinger/aitab/internal/store"
)

func newAuthHandler(t *testing.T) (*AuthHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &AuthHandler{Store: &store.Store{DB: db}, Secret: []byte("test-secret")}, mock
}

func newJSONContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func wantHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("err: %v, want *echo.HTTPError", err)
	}
	if httpErr.Code != code {
		t.Fatalf("status: got %d, want %d", httpErr.Code, code)
	}
}

func TestSignupCreatesUser(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1,$2)`)).
		WithArgs("doc@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, rec := newJSONContext(http.MethodPost, "/auth/signup", `{"email":"doc@example.com","password":"longenough"}`)
	if err := h.signup(ctx); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusCreated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	h, _ := newAuthHandler(t)
	ctx, _ := newJSONContext(http.MethodPost, "/auth/signup", `{"email":"doc@example.com","password":"short"}`)
	wantHTTPError(t, h.signup(ctx), http.StatusBadRequest)
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs("doc@example.com", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	ctx, _ := newJSONContext(http.MethodPost, "/auth/signup", `{"email":"doc@example.com","password":"longenough"}`)
	wantHTTPError(t, h.signup(ctx), http.StatusConflict)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoginIssuesTokenAndCookie(t *testing.T) {
	h, mock := newAuthHandler(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("longenough"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email=$1`)).
		WithArgs("doc@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("user-1", string(hash)))

	ctx, rec := newJSONContext(http.MethodPost, "/auth/login", `{"email":"doc@example.com","password":"longenough"}`)
	if err := h.login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}

	var resp TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("token missing from response")
	}
	if auth := rec.Header().Get("Authorization"); !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("authorization header: %q", auth)
	}
	cookieSet := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth" && c.Value == resp.Token {
			cookieSet = true
		}
	}
	if !cookieSet {
		t.Fatal("auth cookie not set to the issued token")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoginWrongPasswordUnauthorized(t *testing.T) {
	h, mock := newAuthHandler(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("other-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, password_hash FROM users`)).
		WithArgs("doc@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("user-1", string(hash)))

	ctx, _ := newJSONContext(http.MethodPost, "/auth/login", `{"email":"doc@example.com","password":"longenough"}`)
	wantHTTPError(t, h.login(ctx), http.StatusUnauthorized)
}

func TestLoginUnknownEmailUnauthorized(t *testing.T) {
	h, mock := newAuthHandler(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, password_hash FROM users`)).
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	ctx, _ := newJSONContext(http.MethodPost, "/auth/login", `{"email":"nobody@example.com","password":"longenough"}`)
	wantHTTPError(t, h.login(ctx), http.StatusUnauthorized)
}

func TestLogoutClearsCookie(t *testing.T) {
	h, _ := newAuthHandler(t)
	ctx, rec := newJSONContext(http.MethodPost, "/auth/logout", "")
	if err := h.logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth" {
			if c.MaxAge >= 0 || c.Value != "" {
				t.Fatalf("auth cookie not cleared: %+v", c)
			}
			return
		}
	}
	t.Fatal("auth cookie not touched")
}
