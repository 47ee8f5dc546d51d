package ledger

import "time"

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusStopped   = "stopped"
	RunStatusFailed    = "failed"
)

type Run struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	Basename  string    `json:"basename"`
	OutputDir string    `json:"output_dir"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	FinalPath string    `json:"final_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Chunk struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Index     int       `json:"index"`
	Seed      int64     `json:"seed"`
	VideoPath string    `json:"video_path"`
	AudioPath string    `json:"audio_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
