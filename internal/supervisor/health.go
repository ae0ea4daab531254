package supervisor

// Process status values reported by Health.
const (
	StatusNotFound = "not_found"
	StatusRunning  = "running"
	StatusExited   = "exited"
)

// ProcessHealth is a point-in-time snapshot of one supervised process.
// Recomputed on every query; never persisted.
type ProcessHealth struct {
	Status   string `json:"status"` // not_found | running | exited
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"` // present only when exited
	Name     string `json:"name,omitempty"`
	Command  string `json:"command,omitempty"`
	LogFile  string `json:"log_file,omitempty"`
}

// Health returns a snapshot of the server's process. Unknown ids yield a
// not_found snapshot rather than an error, so polling loops never need
// special-case error handling. Never mutates state.
func (s *Supervisor) Health(id int64) ProcessHealth {
	s.mu.Lock()
	h, ok := s.procs[id]
	s.mu.Unlock()

	if !ok {
		return ProcessHealth{Status: StatusNotFound}
	}

	ph := ProcessHealth{
		PID:     h.cmd.Process.Pid,
		Name:    h.name,
		Command: h.command,
		LogFile: h.logFile,
	}

	if h.exited() {
		code := h.exitCode
		ph.Status = StatusExited
		ph.ExitCode = &code
	} else {
		ph.Status = StatusRunning
		ph.Running = true
	}
	return ph
}

// AllHealth returns snapshots for every registered server id.
func (s *Supervisor) AllHealth() map[int64]ProcessHealth {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	out := make(map[int64]ProcessHealth, len(ids))
	for _, id := range ids {
		out[id] = s.Health(id)
	}
	return out
}

// RunningServers returns the ids of all currently live processes.
func (s *Supervisor) RunningServers() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, h := range s.procs {
		if !h.exited() {
			ids = append(ids, id)
		}
	}
	return ids
}
