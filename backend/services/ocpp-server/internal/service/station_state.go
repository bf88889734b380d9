package service

import (
	"sort"
	"sync"
	"time"
)

// ConnectorState holds minimal connector info.
type ConnectorState struct {
	Status    string
	ErrorCode string
	UpdatedAt time.Time
}

// EnergyReading is the latest energy register sample of a connector.
type EnergyReading struct {
	ConnectorID int
	Value       string
	Unit        string
	Timestamp   time.Time
}

// StationRuntimeState keeps runtime info per station.
type StationRuntimeState struct {
	Vendor          string
	Model           string
	FirmwareVersion string
	FirmwareStatus  string
	Status          string
	LastHeartbeat   time.Time
	LastReading     *EnergyReading
	Connectors      map[int]ConnectorState
}

// StationState keeps track of in-memory station data for quick lookups.
type StationState struct {
	mu       sync.RWMutex
	stations map[string]*StationRuntimeState
	now      func() time.Time
}

// NewStationState returns state store.
func NewStationState() *StationState {
	return &StationState{
		stations: make(map[string]*StationRuntimeState),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// must be called with mu held
func (s *StationState) entry(stationID string) *StationRuntimeState {
	state, ok := s.stations[stationID]
	if !ok {
		state = &StationRuntimeState{Connectors: make(map[int]ConnectorState)}
		s.stations[stationID] = state
	}
	return state
}

// Boot records the station identification reported on boot.
func (s *StationState) Boot(stationID, vendor, model, firmware string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.entry(stationID)
	state.Vendor = vendor
	state.Model = model
	state.FirmwareVersion = firmware
	state.LastHeartbeat = s.now()
}

// Heartbeat stamps the last heartbeat time.
func (s *StationState) Heartbeat(stationID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.entry(stationID).LastHeartbeat = now
	return now
}

// UpdateStation updates station status.
func (s *StationState) UpdateStation(stationID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(stationID).Status = status
}

// UpdateConnector updates connector-level status.
func (s *StationState) UpdateConnector(stationID string, connectorID int, status, errorCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(stationID).Connectors[connectorID] = ConnectorState{
		Status:    status,
		ErrorCode: errorCode,
		UpdatedAt: s.now(),
	}
}

// UpdateFirmwareStatus records firmware update progress.
func (s *StationState) UpdateFirmwareStatus(stationID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(stationID).FirmwareStatus = status
}

// RecordReading keeps the most recent energy reading.
func (s *StationState) RecordReading(stationID string, reading EnergyReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.entry(stationID)
	if state.LastReading != nil && reading.Timestamp.Before(state.LastReading.Timestamp) {
		return
	}
	r := reading
	state.LastReading = &r
}

// Get returns a copy of one station state.
func (s *StationState) Get(stationID string) (StationRuntimeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[stationID]
	if !ok {
		return StationRuntimeState{}, false
	}
	return copyState(st), true
}

// Remove forgets a station.
func (s *StationState) Remove(stationID string) {
	s.mu.Lock()
	delete(s.stations, stationID)
	s.mu.Unlock()
}

// IDs returns known station ids in sorted order.
func (s *StationState) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.stations))
	for id := range s.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of current state map.
func (s *StationState) Snapshot() map[string]StationRuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]StationRuntimeState, len(s.stations))
	for id, st := range s.stations {
		result[id] = copyState(st)
	}
	return result
}

func copyState(st *StationRuntimeState) StationRuntimeState {
	c := *st
	c.Connectors = make(map[int]ConnectorState, len(st.Connectors))
	for cid, conn := range st.Connectors {
		c.Connectors[cid] = conn
	}
	if st.LastReading != nil {
		r := *st.LastReading
		c.LastReading = &r
	}
	return c
}
