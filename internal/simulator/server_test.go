package simulator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lowaak/cable-trainer/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *Machine) {
	t.Helper()
	machine := NewMachine(testLogger(), "Vee 1234")
	manager := NewManager(testLogger(), machine)
	server := NewServer(manager, testLogger())
	t.Cleanup(func() {
		server.Shutdown()
		manager.Shutdown()
	})
	return server, machine
}

func do(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestServer_ListAndGetMachine(t *testing.T) {
	server, machine := newTestServer(t)

	rec := do(t, server, http.MethodGet, "/api/machines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []MachineSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "Vee 1234", list[0].LocalName)

	rec = do(t, server, http.MethodGet, "/api/machines/"+machine.GetAddressString(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot MachineSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
	assert.Equal(t, machine.GetAddressString(), snapshot.Address)
	assert.False(t, snapshot.Connected)
}

func TestServer_UnknownMachine(t *testing.T) {
	server, _ := newTestServer(t)
	rec := do(t, server, http.MethodGet, "/api/machines/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SetCableKeepsAbsentFields(t *testing.T) {
	server, machine := newTestServer(t)
	machine.SetCable(CableState{ForceLeftKg: 5, PositionRightRaw: 700})

	rec := do(t, server, http.MethodPost, "/api/machines/"+machine.GetAddressString()+"/cable",
		`{"forceRightKg": 9.5, "positionLeftRaw": 1200}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, CableState{
		ForceLeftKg:      5,
		ForceRightKg:     9.5,
		PositionLeftRaw:  1200,
		PositionRightRaw: 700,
	}, machine.Cable())

	rec = do(t, server, http.MethodPost, "/api/machines/"+machine.GetAddressString()+"/cable", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_HalfRepAndWrites(t *testing.T) {
	server, machine := newTestServer(t)
	machine.SetConnected(true)

	notified := 0
	require.NoError(t, machine.EnableNotifications(protocol.ServiceUUIDNordicUART, protocol.CharUUIDRepNotify, func([]byte) {
		notified++
	}))

	rec := do(t, server, http.MethodPost, "/api/machines/"+machine.GetAddressString()+"/half-rep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered": true}`, rec.Body.String())
	assert.Equal(t, 1, notified)

	require.NoError(t, machine.WriteCharacteristic(protocol.ServiceUUIDNordicUART, protocol.CharUUIDControl, protocol.EncodeInit()))
	rec = do(t, server, http.MethodGet, "/api/machines/"+machine.GetAddressString()+"/writes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var writes []WrittenFrame
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&writes))
	require.Len(t, writes, 1)
	assert.Equal(t, "INIT", writes[0].Description)
}

func TestServer_AutoReps(t *testing.T) {
	server, machine := newTestServer(t)
	path := "/api/machines/" + machine.GetAddressString() + "/auto-reps"

	rec := do(t, server, http.MethodPost, path, `{"enabled": true, "periodMs": 20, "loadKg": 10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, machine.Snapshot().AutoReps)
	require.Eventually(t, func() bool { return machine.Snapshot().HalfReps >= 2 }, time.Second, 5*time.Millisecond)

	rec = do(t, server, http.MethodPost, path, `{"enabled": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, machine.Snapshot().AutoReps)

	rec = do(t, server, http.MethodPost, path, `{"enabled": true, "periodMs": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_WebSocketFeed(t *testing.T) {
	server, machine := newTestServer(t)
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/machines/" + machine.GetAddressString() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	machine.SetCable(CableState{PositionLeftRaw: 1500})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var snapshot MachineSnapshot
		require.NoError(t, conn.ReadJSON(&snapshot))
		if snapshot.Cable.PositionLeftRaw == 1500 {
			break
		}
	}
}
