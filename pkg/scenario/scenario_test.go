package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiprobe/apiprobe/pkg/request"
	"github.com/apiprobe/apiprobe/pkg/storage"
)

func requestWith(method, path string) request.Request {
	return request.Request{Method: method, Path: path}
}

const sampleYAML = `
name: order flow
baseUrl: https://api.test
steps:
  - name: create order
    request:
      method: POST
      path: /orders
      body:
        sku: widget-1
    extract:
      - name: orderId
        path: $.id
  - name: fetch order
    request:
      method: GET
      path: /orders/{{orderId}}
    delayMs: 50
    assert: status == 200
`

func TestParse_YAML(t *testing.T) {
	sc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "order flow", sc.Name)
	assert.Equal(t, "https://api.test", sc.BaseURL)
	require.Len(t, sc.Steps, 2)

	first := sc.Steps[0]
	assert.NotEmpty(t, first.ID, "missing step ids are assigned")
	assert.Equal(t, "POST", first.Request.Method)
	require.Len(t, first.Extract, 1)
	assert.Equal(t, "orderId", first.Extract[0].Name)
	assert.Equal(t, "$.id", first.Extract[0].Path)

	second := sc.Steps[1]
	assert.Equal(t, "/orders/{{orderId}}", second.Request.Path)
	assert.Equal(t, 50, second.DelayMs)
	assert.Equal(t, "status == 200", second.Assert)
}

func TestParse_JSON(t *testing.T) {
	sc, err := Parse([]byte(`{"name":"ping","steps":[{"request":{"method":"GET","path":"/health"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "ping", sc.Name)
	require.Len(t, sc.Steps, 1)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		scenario Scenario
		wantErr  string
	}{
		{
			name:     "missing name",
			scenario: Scenario{Steps: []*Step{{}}},
			wantErr:  "name is required",
		},
		{
			name:     "no steps",
			scenario: Scenario{Name: "empty"},
			wantErr:  "has no steps",
		},
		{
			name: "step without method",
			scenario: Scenario{Name: "s", Steps: []*Step{
				{Request: requestWith("", "/x")},
			}},
			wantErr: "has no method",
		},
		{
			name: "step without path",
			scenario: Scenario{Name: "s", Steps: []*Step{
				{Request: requestWith("GET", "")},
			}},
			wantErr: "has no path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scenario.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMoveStep(t *testing.T) {
	sc := &Scenario{Name: "s", Steps: []*Step{
		{ID: "a", Request: requestWith("GET", "/a")},
		{ID: "b", Request: requestWith("GET", "/b")},
		{ID: "c", Request: requestWith("GET", "/c")},
	}}

	assert.False(t, sc.MoveStepUp(0))
	assert.False(t, sc.MoveStepDown(2))
	assert.False(t, sc.MoveStepUp(5))

	require.True(t, sc.MoveStepUp(2))
	assert.Equal(t, []string{"a", "c", "b"}, stepIDs(sc))

	require.True(t, sc.MoveStepDown(0))
	assert.Equal(t, []string{"c", "a", "b"}, stepIDs(sc))

	assert.Equal(t, 1, sc.StepIndex("a"))
	assert.Equal(t, -1, sc.StepIndex("zzz"))
}

func TestStore_SaveAssignsIdentityAndTimestamps(t *testing.T) {
	store := NewStore(storage.NewMemory(), nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	sc := &Scenario{Name: "s", Steps: []*Step{{Request: requestWith("GET", "/a")}}}
	require.NoError(t, store.Save(sc))

	assert.NotEmpty(t, sc.ID)
	assert.NotEmpty(t, sc.Steps[0].ID)
	assert.Equal(t, base, sc.CreatedAt)
	assert.Equal(t, base, sc.UpdatedAt)

	store.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, store.Save(sc))
	assert.Equal(t, base, sc.CreatedAt, "creation time is stable")
	assert.Equal(t, base.Add(time.Hour), sc.UpdatedAt, "update time refreshes on save")
}

func TestStore_GetListDelete(t *testing.T) {
	store := NewStore(storage.NewMemory(), nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i, name := range []string{"first", "second", "third"} {
		store.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		sc := &Scenario{Name: name, Steps: []*Step{{Request: requestWith("GET", "/a")}}}
		require.NoError(t, store.Save(sc))
		ids = append(ids, sc.ID)
	}

	got, err := store.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	_, err = store.Get("missing")
	assert.Error(t, err)

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Name, "most recently updated first")

	require.NoError(t, store.Delete(ids[1]))
	all, err = store.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_RejectsInvalidScenario(t *testing.T) {
	store := NewStore(storage.NewMemory(), nil)
	err := store.Save(&Scenario{Name: ""})
	assert.Error(t, err)
}

func stepIDs(sc *Scenario) []string {
	out := make([]string, len(sc.Steps))
	for i, s := range sc.Steps {
		out[i] = s.ID
	}
	return out
}
