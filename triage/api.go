package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
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

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// Api is the REST surface: auth token issuance and board settings. The
// realtime channel is Client; everything request/response-shaped over plain
// http lives here.
type Api struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	authToken string
}

func NewApi(apiUrl string) *Api {
	return NewApiWithContext(context.Background(), apiUrl)
}

func NewApiWithContext(ctx context.Context, apiUrl string) *Api {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &Api{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *Api) SetAuthToken(authToken string) {
	self.authToken = authToken
}

type User struct {
	Id        string `json:"_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	IsActive  bool   `json:"isActive,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	Data *AuthLoginResultData `json:"data,omitempty"`
}

type AuthLoginResultData struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}

func (self *Api) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/api/users/login", self.apiUrl),
		authLogin,
		self.authToken,
		&AuthLoginResult{},
		callback,
	)
}

func (self *Api) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/api/users/login", self.apiUrl),
		authLogin,
		self.authToken,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type AuthSignupCallback apiCallback[*AuthSignupResult]

type AuthSignupArgs struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type AuthSignupResult struct {
	Token string `json:"token,omitempty"`
	Data  *User  `json:"data,omitempty"`
}

func (self *Api) AuthSignup(authSignup *AuthSignupArgs, callback AuthSignupCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/api/users/signup", self.apiUrl),
		authSignup,
		self.authToken,
		&AuthSignupResult{},
		callback,
	)
}

func (self *Api) AuthSignupSync(authSignup *AuthSignupArgs) (*AuthSignupResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/api/users/signup", self.apiUrl),
		authSignup,
		self.authToken,
		&AuthSignupResult{},
		NewNoopApiCallback[*AuthSignupResult](),
	)
}

type GetSettingsCallback apiCallback[*SettingsResult]

type SettingsResult struct {
	Success bool                `json:"success"`
	Data    *SettingsResultData `json:"data,omitempty"`
}

type SettingsResultData struct {
	Settings *Settings `json:"settings,omitempty"`
}

func (self *Api) GetSettings(callback GetSettingsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/api/settings", self.apiUrl),
		self.authToken,
		&SettingsResult{},
		callback,
	)
}

func (self *Api) GetSettingsSync() (*SettingsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/api/settings", self.apiUrl),
		self.authToken,
		&SettingsResult{},
		NewNoopApiCallback[*SettingsResult](),
	)
}

type SaveSettingsCallback apiCallback[*SettingsResult]

type SaveSettingsArgs struct {
	Settings *Settings `json:"settings"`
}

func (self *Api) SaveSettings(saveSettings *SaveSettingsArgs, callback SaveSettingsCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/api/settings", self.apiUrl),
		saveSettings,
		self.authToken,
		&SettingsResult{},
		callback,
	)
}

func (self *Api) SaveSettingsSync(saveSettings *SaveSettingsArgs) (*SettingsResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/api/settings", self.apiUrl),
		saveSettings,
		self.authToken,
		&SettingsResult{},
		NewNoopApiCallback[*SettingsResult](),
	)
}

func post[R any](ctx context.Context, url string, args any, authToken string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if authToken != "" {
		auth := fmt.Sprintf("Bearer %s", authToken)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, authToken string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if authToken != "" {
		auth := fmt.Sprintf("Bearer %s", authToken)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
var phoneRegex = regexp.MustCompile(`^[\+]?[1-9][\d]{0,15}$`)
var nameRegex = regexp.MustCompile(`^[a-zA-Z\s]+$`)

const passwordMinLength = 6
const nameMinLength = 2

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return &ValidationError{Field: "email", Message: "invalid email address"}
	}
	return nil
}

func ValidatePhone(phone string) error {
	if !phoneRegex.MatchString(phone) {
		return &ValidationError{Field: "phone", Message: "invalid phone number"}
	}
	return nil
}

func ValidatePassword(password string) error {
	if password == "" {
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	if len(password) < passwordMinLength {
		return &ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("password must be at least %d characters", passwordMinLength),
		}
	}
	if password == strings.ToLower(password) || password == strings.ToUpper(password) {
		return &ValidationError{
			Field:   "password",
			Message: "password must contain at least one uppercase and one lowercase letter",
		}
	}
	return nil
}

func ValidateName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) < nameMinLength {
		return &ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("name must be at least %d characters", nameMinLength),
		}
	}
	if !nameRegex.MatchString(name) {
		return &ValidationError{Field: "name", Message: "name can only contain letters and spaces"}
	}
	return nil
}
