package spotify

// currentlyPlayingResponse is the body of GET /me/player/currently-playing.
type currentlyPlayingResponse struct {
	ProgressMs           int64         `json:"progress_ms"`
	IsPlaying            bool          `json:"is_playing"`
	CurrentlyPlayingType string        `json:"currently_playing_type"`
	Item                 *spotifyTrack `json:"item"`
}

type spotifyTrack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
}

// queueResponse is the body of GET /me/player/queue.
type queueResponse struct {
	Queue []spotifyTrack `json:"queue"`
}

// analysisResponse is the body of GET /audio-analysis/{id}.
type analysisResponse struct {
	Track struct {
		Duration float64 `json:"duration"`
		Tempo    float64 `json:"tempo"`
	} `json:"track"`
	Bars     []spotifyInterval `json:"bars"`
	Beats    []spotifyInterval `json:"beats"`
	Sections []spotifySection  `json:"sections"`
	Segments []spotifySegment  `json:"segments"`
}

type spotifyInterval struct {
	Start      float64 `json:"start"`
	Duration   float64 `json:"duration"`
	Confidence float64 `json:"confidence"`
}

type spotifySection struct {
	spotifyInterval
	Loudness      float64 `json:"loudness"`
	Tempo         float64 `json:"tempo"`
	Key           int     `json:"key"`
	Mode          int     `json:"mode"`
	TimeSignature int     `json:"time_signature"`
}

// spotifySegment uses pointers where a missing field needs a fallback.
type spotifySegment struct {
	spotifyInterval
	LoudnessStart   float64   `json:"loudness_start"`
	LoudnessMax     *float64  `json:"loudness_max"`
	LoudnessMaxTime float64   `json:"loudness_max_time"`
	LoudnessEnd     *float64  `json:"loudness_end"`
	Pitches         []float64 `json:"pitches"`
	Timbre          []float64 `json:"timbre"`
}
