package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/langchou/odosync/internal/api/fleetio"
	"github.com/langchou/odosync/internal/api/smartcar"
	"github.com/langchou/odosync/internal/models"
)

// memStore 内存凭证存储
type memStore struct {
	mu      sync.Mutex
	cred    models.Credential
	saves   int
	saveErr error
}

func (s *memStore) Load(_ context.Context) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, nil
}

func (s *memStore) Save(_ context.Context, cred models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.cred = cred
	return nil
}

type sourceVehicle struct {
	attrs    *smartcar.Attributes
	vin      string
	odometer *models.OdometerReading

	attrsErr    error
	vinErr      error
	odometerErr error
}

// fakeSmartcar 同时实现 SmartcarAPI 和 OAuthAPI
type fakeSmartcar struct {
	mu sync.Mutex

	validToken string
	listErr    error
	order      []string
	vehicles   map[string]*sourceVehicle

	refreshResult *smartcar.Token
	refreshErr    error
	exchangeErr   error

	listCalls     int
	refreshCalls  int
	exchangeCalls int
	lastCode      string
	lastAuthURL   string
}

func newFakeSmartcar(validToken string) *fakeSmartcar {
	return &fakeSmartcar{validToken: validToken, vehicles: map[string]*sourceVehicle{}}
}

func (f *fakeSmartcar) add(id string, v *sourceVehicle) {
	f.order = append(f.order, id)
	f.vehicles[id] = v
}

func (f *fakeSmartcar) authorized(token string) error {
	if token == "" || token != f.validToken {
		return &smartcar.APIError{Op: "probe", StatusCode: http.StatusUnauthorized, Body: `{"type":"AUTHENTICATION"}`}
	}
	return nil
}

func (f *fakeSmartcar) ListVehicles(_ context.Context, token string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.authorized(token); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.order...), nil
}

func (f *fakeSmartcar) GetAttributes(_ context.Context, token, id string) (*smartcar.Attributes, error) {
	if err := f.authorized(token); err != nil {
		return nil, err
	}
	v := f.vehicles[id]
	if v == nil {
		return nil, &smartcar.APIError{Op: "attributes", StatusCode: http.StatusNotFound}
	}
	if v.attrsErr != nil {
		return nil, v.attrsErr
	}
	return v.attrs, nil
}

func (f *fakeSmartcar) GetVIN(_ context.Context, token, id string) (string, error) {
	if err := f.authorized(token); err != nil {
		return "", err
	}
	v := f.vehicles[id]
	if v.vinErr != nil {
		return "", v.vinErr
	}
	return v.vin, nil
}

func (f *fakeSmartcar) GetOdometer(_ context.Context, token, id string) (*models.OdometerReading, error) {
	if err := f.authorized(token); err != nil {
		return nil, err
	}
	v := f.vehicles[id]
	if v.odometerErr != nil {
		return nil, v.odometerErr
	}
	if v.odometer == nil {
		return nil, errors.New("odometer response missing distance")
	}
	return v.odometer, nil
}

func (f *fakeSmartcar) AuthURL(scopes []string, state string, force bool) string {
	u := "https://connect.example.com/oauth/authorize?scope=" + strings.Join(scopes, "+") + "&state=" + state
	if force {
		u += "&approval_prompt=force"
	}
	f.lastAuthURL = u
	return u
}

func (f *fakeSmartcar) ExchangeCode(_ context.Context, code string) (*smartcar.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls++
	f.lastCode = code
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &smartcar.Token{AccessToken: f.validToken, RefreshToken: "refresh-from-code", CreatedAt: time.Now()}, nil
}

func (f *fakeSmartcar) RefreshToken(_ context.Context, refreshToken string) (*smartcar.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshResult != nil {
		return f.refreshResult, nil
	}
	return &smartcar.Token{AccessToken: f.validToken, RefreshToken: refreshToken + "-next", CreatedAt: time.Now()}, nil
}

// fakePrompter 返回固定授权码
type fakePrompter struct {
	code  string
	err   error
	calls int
	url   string
	state string
}

func (p *fakePrompter) PromptCode(_ context.Context, authURL, state string) (string, error) {
	p.calls++
	p.url = authURL
	p.state = state
	return p.code, p.err
}

// fakeFleet 内存版 Fleetio；查询故意做成包含匹配，模拟服务端宽松过滤
type fakeFleet struct {
	mu       sync.Mutex
	nextID   int
	vehicles []models.TargetVehicle
	payloads map[models.TargetID]fleetio.VehiclePayload
	meters   []models.MeterEntry

	pingErr   error
	searchErr error
	createErr error
	updateErr error
	meterErr  error

	creates  int
	updates  int
	searches []fleetio.SearchField
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{nextID: 100, payloads: map[models.TargetID]fleetio.VehiclePayload{}}
}

func (f *fakeFleet) seed(id, vin, name string) {
	f.vehicles = append(f.vehicles, models.TargetVehicle{ID: models.TargetID(id), VIN: vin, Name: name})
}

func (f *fakeFleet) Ping(context.Context) error { return f.pingErr }

func (f *fakeFleet) SearchVehicles(_ context.Context, field fleetio.SearchField, value string) ([]models.TargetVehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, field)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []models.TargetVehicle
	needle := strings.ToLower(strings.TrimSpace(value))
	for _, v := range f.vehicles {
		hay := v.Name
		if field == fleetio.SearchByVIN {
			hay = v.VIN
		}
		if needle != "" && strings.Contains(strings.ToLower(hay), needle) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeFleet) CreateVehicle(_ context.Context, p fleetio.VehiclePayload) (*models.TargetVehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	v := models.TargetVehicle{ID: models.TargetID(strconv.Itoa(f.nextID)), VIN: p.VIN, Name: p.Name}
	f.vehicles = append(f.vehicles, v)
	f.payloads[v.ID] = p
	return &v, nil
}

func (f *fakeFleet) UpdateVehicle(_ context.Context, id models.TargetID, p fleetio.VehiclePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.vehicles {
		if f.vehicles[i].ID == id {
			if p.VIN != "" {
				f.vehicles[i].VIN = p.VIN
			}
			f.vehicles[i].Name = p.Name
		}
	}
	f.payloads[id] = p
	return nil
}

func (f *fakeFleet) CreateMeterEntry(_ context.Context, e models.MeterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meterErr != nil {
		return f.meterErr
	}
	f.meters = append(f.meters, e)
	return nil
}

// recordingNotifier 记录推送的消息类型
type recordingNotifier struct {
	mu    sync.Mutex
	types []string
}

func (n *recordingNotifier) BroadcastMessage(msgType string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, msgType)
}

func (n *recordingNotifier) count(msgType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.types {
		if t == msgType {
			c++
		}
	}
	return c
}
