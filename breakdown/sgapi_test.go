package breakdown

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func TestRepositoryApiFindRecords(t *testing.T) {
	var gotAuth string
	var gotQuery RecordQuery

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records/find", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotQuery)

		json.NewEncoder(w).Encode(map[string]any{
			"records": []Record{
				testRecord(1, "a", 3, 1, 10, "/a/v3"),
			},
		})
	}))
	defer server.Close()

	api := NewRepositoryApi(server.URL)
	api.SetAuthJwt("session-token")

	query := &RecordQuery{
		Filters:            And(Cond("name", ConditionIn, []string{"a"})),
		Fields:             []string{"id", "name", "version_number"},
		OrderDescByVersion: true,
	}
	records, err := api.FindRecords(context.Background(), query)
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(records))
	assert.Equal(t, "a", records[0].Name())
	version, _ := records[0].Version()
	assert.Equal(t, int64(3), version)

	assert.Equal(t, "Bearer session-token", gotAuth)
	assert.Equal(t, true, gotQuery.OrderDescByVersion)
	assert.Equal(t, LogicAnd, gotQuery.Filters.Logic)
}

func TestRepositoryApiFindRecordsByPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records/resolve-paths", r.URL.Path)

		var args resolvePathsArgs
		json.NewDecoder(r.Body).Decode(&args)
		assert.Equal(t, []string{"/a", "/b"}, args.Paths)

		json.NewEncoder(w).Encode(map[string]any{
			"records_by_path": map[string]Record{
				"/a": testRecord(1, "a", 1, 1, 10, "/a"),
			},
		})
	}))
	defer server.Close()

	api := NewRepositoryApi(server.URL)

	recordsByPath, err := api.FindRecordsByPaths(context.Background(), []string{"/a", "/b"}, []string{"id"}, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(recordsByPath))
	assert.Equal(t, "a", recordsByPath["/a"].Name())
}

func TestRepositoryApiErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad filters", http.StatusBadRequest)
	}))
	defer server.Close()

	api := NewRepositoryApi(server.URL)

	_, err := api.FindRecords(context.Background(), &RecordQuery{})
	assert.NotEqual(t, err, nil)
}

func TestRepositoryApiServerStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "GET", r.Method)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
		})
	}))
	defer server.Close()

	api := NewRepositoryApi(server.URL)

	status, err := api.ServerStatus(context.Background())
	assert.Equal(t, err, nil)
	assert.Equal(t, "ok", status)
}

func TestRepositoryApiSetAuthJwtWhileRequestsInFlight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"records": []Record{},
		})
	}))
	defer server.Close()

	api := NewRepositoryApi(server.URL)
	api.SetAuthJwt("token0")

	// token rotation is safe against concurrent requests
	done := make(chan error, 16)
	for i := 0; i < 8; i += 1 {
		i := i
		go func() {
			_, err := api.FindRecords(context.Background(), &RecordQuery{})
			done <- err
		}()
		go func() {
			api.SetAuthJwt(fmt.Sprintf("token%d", i))
			done <- nil
		}()
	}
	for i := 0; i < 16; i += 1 {
		assert.Equal(t, <-done, nil)
	}
}

func TestRepositoryApiSessionClaims(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_login": "artist1",
		"site_url":   "https://studio.example.com",
		"exp":        expiresAt.Unix(),
	})
	authJwt, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)

	api := NewRepositoryApi("https://repo.example.com")
	api.SetAuthJwt(authJwt)

	claims, err := api.SessionClaims()
	assert.Equal(t, err, nil)
	assert.Equal(t, "artist1", claims.UserLogin)
	assert.Equal(t, "https://studio.example.com", claims.SiteUrl)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
	assert.Equal(t, false, claims.Expired())
}

func TestRepositoryApiSessionClaimsMissingToken(t *testing.T) {
	api := NewRepositoryApi("https://repo.example.com")

	_, err := api.SessionClaims()
	assert.NotEqual(t, err, nil)
}
