// Package orgseed loads an organization seed file and replays it against a
// bootstrapped organization: hires first, then scheduled meetings, loose
// tasks and CEO goals.
package orgseed

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-org/internal/agents/protocol"
)

// Version is the only seed schema understood by this package.
const Version = 1

// File is the decoded seed document.
type File struct {
	Version  int       `yaml:"version"`
	Org      string    `yaml:"org"`
	CEO      CEO       `yaml:"ceo"`
	Hires    []Hire    `yaml:"hires"`
	Meetings []Meeting `yaml:"meetings"`
	Tasks    []Task    `yaml:"tasks"`
	Goals    []Goal    `yaml:"goals"`

	// Path is set by LoadFile.
	Path string `yaml:"-"`
}

// CEO names the chief executive hired by bootstrap.
type CEO struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Hire is one employee handed to HR.
type Hire struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Role    string   `yaml:"role"`
	Title   string   `yaml:"title"`
	Manager string   `yaml:"manager"`
	Skills  []string `yaml:"skills"`
}

// Meeting is one schedule entry. Exactly one of At (RFC 3339) or In (a Go
// duration relative to the time the seed is applied) must be set.
type Meeting struct {
	ID           string   `yaml:"id"`
	Type         string   `yaml:"type"`
	At           string   `yaml:"at"`
	In           string   `yaml:"in"`
	Participants []string `yaml:"participants"`
	Organizer    string   `yaml:"organizer"`
	Frequency    string   `yaml:"frequency"`
	Topic        string   `yaml:"topic"`
	Message      string   `yaml:"message"`
}

// Task is routed through HR to the least loaded manager.
type Task struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Priority    string `yaml:"priority"`
}

// Goal is handed to the CEO.
type Goal struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Tasks       []Task `yaml:"tasks"`
}

// Parse decodes and validates a seed payload.
func Parse(data []byte) (File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return File{}, errors.New("orgseed: payload is empty")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("orgseed: decode: %w", err)
	}
	f.normalize()
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// LoadFile reads and parses the seed at path.
func LoadFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("orgseed: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("orgseed: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("orgseed: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("orgseed: %s: %w", path, err)
	}
	f.Path = filepath.Clean(path)
	return f, nil
}

func (f *File) normalize() {
	if f.Version == 0 {
		f.Version = Version
	}
	f.Org = strings.TrimSpace(f.Org)
	f.CEO.ID = strings.TrimSpace(f.CEO.ID)
	f.CEO.Name = strings.TrimSpace(f.CEO.Name)
	for i := range f.Hires {
		h := &f.Hires[i]
		h.ID = strings.TrimSpace(h.ID)
		h.Name = strings.TrimSpace(h.Name)
		h.Role = strings.ToLower(strings.TrimSpace(h.Role))
		h.Manager = strings.TrimSpace(h.Manager)
	}
	for i := range f.Meetings {
		m := &f.Meetings[i]
		m.Type = strings.ToLower(strings.TrimSpace(m.Type))
		m.Frequency = strings.ToLower(strings.TrimSpace(m.Frequency))
		if m.Frequency == "" {
			m.Frequency = protocol.FrequencyNone
		}
	}
	for i := range f.Tasks {
		f.Tasks[i].normalize()
	}
	for i := range f.Goals {
		for j := range f.Goals[i].Tasks {
			f.Goals[i].Tasks[j].normalize()
		}
	}
}

func (t *Task) normalize() {
	t.Title = strings.TrimSpace(t.Title)
	t.Priority = strings.ToLower(strings.TrimSpace(t.Priority))
}

// Validate checks the document without talking to any actor. Hires may only
// report to managers declared earlier in the file.
func (f File) Validate() error {
	if f.Version != Version {
		return fmt.Errorf("orgseed: unsupported version %d", f.Version)
	}
	managers := map[string]bool{}
	seen := map[string]bool{}
	if f.CEO.ID != "" {
		seen[f.CEO.ID] = true
	}
	for i, h := range f.Hires {
		if h.Role == protocol.RoleCEO {
			return fmt.Errorf("orgseed: hire %d: the ceo is declared in the ceo section", i)
		}
		if err := h.payload().Validate(); err != nil {
			return fmt.Errorf("orgseed: hire %d: %w", i, err)
		}
		if h.ID != "" {
			if seen[h.ID] {
				return fmt.Errorf("orgseed: hire %d: duplicate id %q", i, h.ID)
			}
			seen[h.ID] = true
		}
		switch h.Role {
		case protocol.RoleManager:
			if h.ID != "" {
				managers[h.ID] = true
			}
		case protocol.RoleIC:
			if h.Manager == "" {
				return fmt.Errorf("orgseed: hire %d: %s needs a manager", i, h.Name)
			}
			if !managers[h.Manager] {
				return fmt.Errorf("orgseed: hire %d: manager %q is not declared before %s", i, h.Manager, h.Name)
			}
		}
	}
	ids := map[string]bool{}
	for i, m := range f.Meetings {
		if _, err := m.payload(time.Unix(0, 0)); err != nil {
			return fmt.Errorf("orgseed: meeting %d: %w", i, err)
		}
		if m.ID != "" {
			if ids[m.ID] {
				return fmt.Errorf("orgseed: meeting %d: duplicate id %q", i, m.ID)
			}
			ids[m.ID] = true
		}
	}
	for i, t := range f.Tasks {
		if err := t.validate(); err != nil {
			return fmt.Errorf("orgseed: task %d: %w", i, err)
		}
	}
	for i, g := range f.Goals {
		if err := g.payload().Validate(); err != nil {
			return fmt.Errorf("orgseed: goal %d: %w", i, err)
		}
		for j, t := range g.Tasks {
			if err := t.validate(); err != nil {
				return fmt.Errorf("orgseed: goal %d task %d: %w", i, j, err)
			}
		}
	}
	if len(f.Goals) > 0 && f.CEO.Name == "" {
		return errors.New("orgseed: goals need a ceo")
	}
	return nil
}

func (h Hire) payload() protocol.HireEmployee {
	return protocol.HireEmployee{
		EmployeeID: h.ID,
		Name:       h.Name,
		Role:       h.Role,
		Title:      h.Title,
		ManagerID:  h.Manager,
		Skills:     h.Skills,
	}
}

// payload resolves the schedule time against now.
func (m Meeting) payload(now time.Time) (protocol.ScheduleMeeting, error) {
	at, err := m.when(now)
	if err != nil {
		return protocol.ScheduleMeeting{}, err
	}
	p := protocol.ScheduleMeeting{
		ID:            m.ID,
		Type:          m.Type,
		ScheduledTime: at,
		Participants:  m.Participants,
		OrganizerID:   m.Organizer,
		Frequency:     m.Frequency,
		Topic:         m.Topic,
		Message:       m.Message,
	}
	return p, p.Validate()
}

func (m Meeting) when(now time.Time) (time.Time, error) {
	at, in := strings.TrimSpace(m.At), strings.TrimSpace(m.In)
	switch {
	case at != "" && in != "":
		return time.Time{}, errors.New("set either at or in, not both")
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse at: %w", err)
		}
		return t.UTC(), nil
	case in != "":
		d, err := time.ParseDuration(in)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse in: %w", err)
		}
		if d < 0 {
			return time.Time{}, errors.New("in must not be negative")
		}
		return now.Add(d).UTC(), nil
	}
	return time.Time{}, errors.New("at or in is required")
}

func (t Task) validate() error {
	if t.Title == "" {
		return errors.New("title is required")
	}
	switch t.Priority {
	case "", protocol.PriorityLow, protocol.PriorityMedium, protocol.PriorityHigh:
		return nil
	}
	return fmt.Errorf("unknown priority %q", t.Priority)
}

func (t Task) payload(createdBy string) protocol.NewTask {
	return protocol.NewTask{
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		CreatedBy:   createdBy,
	}
}

func (g Goal) payload() protocol.SetGoal {
	p := protocol.SetGoal{Title: strings.TrimSpace(g.Title), Description: g.Description}
	for _, t := range g.Tasks {
		p.Tasks = append(p.Tasks, protocol.TaskSpec{Title: t.Title, Description: t.Description, Priority: t.Priority})
	}
	return p
}
