package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Stop is one stop of the route: dwell at the stop, then travel to the next one.
// The final stop has neither travel nor departure.
type Stop struct {
	Name           string  `yaml:"name" json:"name" bson:"name"`
	StaySeconds    float64 `yaml:"staySeconds" json:"staySeconds" bson:"staySeconds"`
	BetweenSeconds float64 `yaml:"betweenSeconds" json:"betweenSeconds" bson:"betweenSeconds"`
}

// EmergencyType selects the narration template and the looped effect of an emergency.
type EmergencyType string

const (
	EmergencyDanger       EmergencyType = "danger"
	EmergencyTraffic      EmergencyType = "traffic"
	EmergencyWeather      EmergencyType = "weather"
	EmergencyInformation  EmergencyType = "information"
	EmergencyAnnouncement EmergencyType = "announcement"
)

// Valid reports whether t is one of the known emergency types.
func (t EmergencyType) Valid() bool {
	switch t {
	case EmergencyDanger, EmergencyTraffic, EmergencyWeather, EmergencyInformation, EmergencyAnnouncement:
		return true
	}
	return false
}

// Emergency interrupts the route. StartSecond is measured against the
// undisturbed schedule, Seconds is how long the interruption lasts.
type Emergency struct {
	Text        string        `yaml:"text" json:"text" bson:"text"`
	Type        EmergencyType `yaml:"type" json:"type" bson:"type"`
	StartSecond float64       `yaml:"startSecond" json:"startSecond" bson:"startSecond"`
	Seconds     float64       `yaml:"seconds" json:"seconds" bson:"seconds"`
}

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Scenario is a complete route description for one video.
type Scenario struct {
	ID          string      `yaml:"id" json:"id" bson:"id"`
	Name        string      `yaml:"name" json:"name" bson:"name"`
	Theme       Theme       `yaml:"theme" json:"theme" bson:"theme"`
	InfoURL     string      `yaml:"infoUrl,omitempty" json:"infoUrl,omitempty" bson:"infoUrl,omitempty"`
	Stops       []Stop      `yaml:"stops" json:"stops" bson:"stops"`
	Emergencies []Emergency `yaml:"emergencies" json:"emergencies" bson:"emergencies"`
}

// Status is the persisted video state of a scenario.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is a stored scenario together with its video state.
type Record struct {
	Scenario    Scenario  `json:"scenario" bson:"scenario"`
	VideoStatus Status    `json:"videoStatus" bson:"videoStatus"`
	VideoPath   string    `json:"videoPath,omitempty" bson:"videoPath,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Normalize fills defaults and clamps values that cannot be negative.
func (s *Scenario) Normalize() {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	if s.Theme != ThemeLight {
		s.Theme = ThemeDark
	}
	for i := range s.Stops {
		st := &s.Stops[i]
		st.Name = strings.TrimSpace(st.Name)
		if st.Name == "" {
			st.Name = fmt.Sprintf("Stop %d", i+1)
		}
		if st.StaySeconds < 0 {
			st.StaySeconds = 0
		}
		if st.BetweenSeconds < 0 {
			st.BetweenSeconds = 0
		}
	}
	for i := range s.Emergencies {
		em := &s.Emergencies[i]
		em.Text = strings.TrimSpace(em.Text)
		if !em.Type.Valid() {
			em.Type = EmergencyDanger
		}
		if em.StartSecond < 0 {
			em.StartSecond = 0
		}
	}
}

// Destination returns the name of the final stop.
func (s *Scenario) Destination() string {
	if len(s.Stops) == 0 {
		return ""
	}
	return s.Stops[len(s.Stops)-1].Name
}

// Fingerprint hashes everything that affects the rendered video.
func (s *Scenario) Fingerprint() string {
	payload := struct {
		Theme       Theme       `json:"theme"`
		InfoURL     string      `json:"infoUrl"`
		Stops       []Stop      `json:"stops"`
		Emergencies []Emergency `json:"emergencies"`
	}{s.Theme, s.InfoURL, s.Stops, s.Emergencies}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RenderChanged reports whether next needs a new video compared to prev.
func RenderChanged(prev, next *Scenario) bool {
	if prev == nil || next == nil {
		return true
	}
	return prev.Fingerprint() != next.Fingerprint()
}

// VideoFileName is the deterministic output file name for a scenario id.
func VideoFileName(id string) string {
	return fmt.Sprintf("scenario_%s.mp4", id)
}
