package daemon

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	gopsproc "github.com/shirou/gopsutil/v3/process"
)

type statusResponse struct {
	Running       bool     `json:"running"`
	PID           int      `json:"pid,omitempty"`
	GamePort      int      `json:"game_port,omitempty"`
	UptimeSeconds float64  `json:"uptime_seconds,omitempty"`
	RAMMB         *float64 `json:"ram_mb,omitempty"`
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	LastExitCode  *int     `json:"last_exit_code,omitempty"`
}

func (d *Daemon) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := statusResponse{Running: d.runner.Running()}
	if code, ok := d.runner.LastExitCode(); ok {
		c := code
		resp.LastExitCode = &c
	}
	if resp.Running {
		resp.PID = d.runner.PID()
		resp.UptimeSeconds = d.runner.Uptime().Seconds()
		d.mut.Lock()
		resp.GamePort = d.gamePort
		d.mut.Unlock()
		resp.RAMMB, resp.CPUPercent = resourceUsage(int32(resp.PID))
	}
	writeJSON(w, http.StatusOK, resp)
}

// resourceUsage samples the process's memory and CPU. Any sampling
// failure yields nils; status reporting never fails the request.
func resourceUsage(pid int32) (ramMB, cpuPct *float64) {
	p, err := gopsproc.NewProcess(pid)
	if err != nil {
		return nil, nil
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		mb := float64(mem.RSS) / 1024.0 / 1024.0
		ramMB = &mb
	}
	if pct, err := p.CPUPercent(); err == nil {
		cpuPct = &pct
	}
	return ramMB, cpuPct
}
