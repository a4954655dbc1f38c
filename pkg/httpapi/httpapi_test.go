package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaori-seasons/edgesched/pkg/types"
)

type fakeScheduler struct {
	submitted types.Request
	taskID    string
	submitErr error
	statuses  map[string]types.Response
	cancelOK  bool
	queue     types.QueueStatus
}

func (f *fakeScheduler) Submit(req types.Request, priority types.Priority, maxRetries int) (string, error) {
	f.submitted = req
	return f.taskID, f.submitErr
}

func (f *fakeScheduler) Status(taskID string) (types.Response, bool) {
	resp, ok := f.statuses[taskID]
	return resp, ok
}

func (f *fakeScheduler) Cancel(taskID string) bool { return f.cancelOK }

func (f *fakeScheduler) QueueStatus() types.QueueStatus { return f.queue }

type fakeRegistry struct {
	all []types.PluginDescriptor
}

func (f *fakeRegistry) List() []types.PluginDescriptor { return f.all }
func (f *fakeRegistry) ListByTag(tag string) []types.PluginDescriptor {
	var out []types.PluginDescriptor
	for _, d := range f.all {
		for _, t := range d.Tags {
			if t == tag {
				out = append(out, d)
			}
		}
	}
	return out
}

type fakeBalancer struct {
	workers []types.WorkerInfo
}

func (f *fakeBalancer) Workers() []types.WorkerInfo { return f.workers }

func newTestRouter() (*fakeScheduler, *fakeRegistry, http.Handler) {
	sched := &fakeScheduler{taskID: "task-1", statuses: map[string]types.Response{}}
	reg := &fakeRegistry{}
	bal := &fakeBalancer{}
	r := NewRouter(Deps{Scheduler: sched, Registry: reg, Balancer: bal})
	return sched, reg, r
}

func TestSubmitComputeReturnsTaskID(t *testing.T) {
	sched, _, router := newTestRouter()

	body, _ := json.Marshal(map[string]any{"algorithm": "echo", "parameters": map[string]any{"x": 1}})
	req := httptest.NewRequest(http.MethodPost, "/compute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "task-1", resp["task_id"])
	assert.Equal(t, "echo", sched.submitted.Algorithm)
}

func TestSubmitComputeRejectsMissingAlgorithm(t *testing.T) {
	_, _, router := newTestRouter()

	body, _ := json.Marshal(map[string]any{"parameters": map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/compute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskReturns404WhenUnknown(t *testing.T) {
	_, _, router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/task/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskReturnsStoredResponse(t *testing.T) {
	sched, _, router := newTestRouter()
	sched.statuses["t1"] = types.Response{TaskID: "t1", Status: types.StatusSuccess}

	req := httptest.NewRequest(http.MethodGet, "/task/t1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.StatusSuccess, resp.Status)
}

func TestCancelTaskReturns409WhenNotCancellable(t *testing.T) {
	sched, _, router := newTestRouter()
	sched.cancelOK = false

	req := httptest.NewRequest(http.MethodPut, "/task/t1/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListAlgorithmsFiltersByTag(t *testing.T) {
	_, reg, router := newTestRouter()
	reg.all = []types.PluginDescriptor{
		{Name: "a", Tags: []string{"vibration"}},
		{Name: "b", Tags: []string{"diagnostics"}},
	}

	req := httptest.NewRequest(http.MethodGet, "/algorithms?tag=vibration", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []types.PluginDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)
}

func TestSchedulerStatusIncludesWorkerStatuses(t *testing.T) {
	sched, _, router := newTestRouter()
	sched.queue = types.QueueStatus{Queued: 2, Active: 1, MaxConcurrent: 10}

	req := httptest.NewRequest(http.MethodGet, "/scheduler/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp schedulerStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Queued)
}

func TestSchedulerDecisionsReturnsEmptyWhenNoLearner(t *testing.T) {
	_, _, router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/scheduler/decisions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []types.DecisionLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got)
}

func TestHealthzReportsOK(t *testing.T) {
	_, _, router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}
