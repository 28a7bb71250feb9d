package breakdown

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// RepositoryApi is the HTTP implementation of RepositoryChannel against the
// repository's JSON api, authenticated with a bearer session token.
type RepositoryApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	stateLock sync.Mutex
	authJwt   string

	client *http.Client
}

func NewRepositoryApi(apiUrl string) *RepositoryApi {
	return NewRepositoryApiWithContext(context.Background(), apiUrl)
}

func NewRepositoryApiWithContext(ctx context.Context, apiUrl string) *RepositoryApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &RepositoryApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
		client: defaultClient(),
	}
}

// attached to all api calls. Safe to call while requests are in flight.
func (self *RepositoryApi) SetAuthJwt(authJwt string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.authJwt = authJwt
}

func (self *RepositoryApi) auth() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.authJwt
}

// SessionClaims are the introspectable claims of the session token.
type SessionClaims struct {
	UserLogin string
	SiteUrl   string
	ExpiresAt time.Time
}

func (self *SessionClaims) Expired() bool {
	return !self.ExpiresAt.IsZero() && self.ExpiresAt.Before(time.Now())
}

// SessionClaims parses the session token without verifying it. Verification
// is the repository's job; the client only surfaces who the token says it is
// and when it expires.
func (self *RepositoryApi) SessionClaims() (*SessionClaims, error) {
	authJwt := self.auth()
	if authJwt == "" {
		return nil, fmt.Errorf("No session token set.")
	}

	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(authJwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionClaims := &SessionClaims{}
	if userLogin, ok := claims["user_login"]; ok {
		if s, ok := toString(userLogin); ok {
			sessionClaims.UserLogin = s
		}
	}
	if siteUrl, ok := claims["site_url"]; ok {
		if s, ok := toString(siteUrl); ok {
			sessionClaims.SiteUrl = s
		}
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		sessionClaims.ExpiresAt = expiresAt.Time
	}

	return sessionClaims, nil
}

type findRecordsResult struct {
	Records []Record `json:"records"`
}

type resolvePathsArgs struct {
	Paths   []string     `json:"paths"`
	Fields  []string     `json:"fields"`
	Filters []*Condition `json:"filters,omitempty"`
}

type resolvePathsResult struct {
	RecordsByPath map[string]Record `json:"records_by_path"`
}

// RepositoryChannel implementation

func (self *RepositoryApi) FindRecords(ctx context.Context, query *RecordQuery) ([]Record, error) {
	result, err := post(ctx, self, "/records/find", query, &findRecordsResult{})
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

func (self *RepositoryApi) FindRecordsByPaths(ctx context.Context, paths []string, fields []string, extraFilters []*Condition) (map[string]Record, error) {
	args := &resolvePathsArgs{
		Paths:   paths,
		Fields:  fields,
		Filters: extraFilters,
	}
	result, err := post(ctx, self, "/records/resolve-paths", args, &resolvePathsResult{})
	if err != nil {
		return nil, err
	}
	return result.RecordsByPath, nil
}

type serverStatusResult struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ServerStatus checks whether the repository api is reachable.
func (self *RepositoryApi) ServerStatus(ctx context.Context) (string, error) {
	result, err := get(ctx, self, "/status", &serverStatusResult{})
	if err != nil {
		return "", err
	}
	return result.Status, nil
}

func (self *RepositoryApi) FindRecordsWithCallback(query *RecordQuery, callback ResultCallback[[]Record]) {
	go func() {
		records, err := self.FindRecords(self.ctx, query)
		callback.Result(records, err)
	}()
}

func (self *RepositoryApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, api *RepositoryApi, path string, args any, result R) (R, error) {
	var empty R

	requestBodyBytes, err := json.Marshal(args)
	if err != nil {
		return empty, err
	}

	requestUrl := api.apiUrl + path
	glog.V(2).Infof("[repo]post %s\n", requestUrl)

	req, err := http.NewRequestWithContext(ctx, "POST", requestUrl, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	if authJwt := api.auth(); authJwt != "" {
		auth := fmt.Sprintf("Bearer %s", authJwt)
		req.Header.Add("Authorization", auth)
	}

	r, err := api.client.Do(req)
	if err != nil {
		return empty, fmt.Errorf("post %s: %w", path, err)
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return empty, err
	}

	if http.StatusOK != r.StatusCode {
		glog.V(1).Infof("[repo]post %s error status %d\n", requestUrl, r.StatusCode)
		return empty, fmt.Errorf("post %s: error status %d", path, r.StatusCode)
	}

	if err := json.Unmarshal(responseBodyBytes, result); err != nil {
		return empty, err
	}

	return result, nil
}

func get[R any](ctx context.Context, api *RepositoryApi, path string, result R) (R, error) {
	var empty R

	requestUrl := api.apiUrl + path
	glog.V(2).Infof("[repo]get %s\n", requestUrl)

	req, err := http.NewRequestWithContext(ctx, "GET", requestUrl, nil)
	if err != nil {
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	if authJwt := api.auth(); authJwt != "" {
		auth := fmt.Sprintf("Bearer %s", authJwt)
		req.Header.Add("Authorization", auth)
	}

	r, err := api.client.Do(req)
	if err != nil {
		return empty, fmt.Errorf("get %s: %w", path, err)
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return empty, err
	}

	if http.StatusOK != r.StatusCode {
		return empty, fmt.Errorf("get %s: error status %d", path, r.StatusCode)
	}

	if err := json.Unmarshal(responseBodyBytes, result); err != nil {
		return empty, err
	}

	return result, nil
}
