package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/repo"
)

// EventSource lists a project's events, either from a point in time or
// after a known event id.
type EventSource interface {
	Recent(ctx context.Context, projectID string, since time.Time) ([]domain.Event, error)
	After(ctx context.Context, projectID string, afterID uint64) ([]domain.Event, error)
}

// Section is the part of a digest covering one project.
type Section struct {
	ProjectID   string
	ProjectName string
	Lines       []string
	More        int
}

// Digest is a composed, not yet rendered, summary for one user.
type Digest struct {
	User     domain.User
	Since    time.Time
	Sections []Section
	Events   int

	// Cursor is the id of the newest event considered, zero when there
	// were none.
	Cursor uint64
}

// Empty reports whether there is nothing to tell the user.
func (d *Digest) Empty() bool { return d.Events == 0 }

// Composer builds digests from stored events.
type Composer struct {
	Events EventSource

	// MaxEvents caps the lines listed per project; the rest is summarized
	// as a count.
	MaxEvents int
}

// NewComposer returns a Composer listing up to maxEvents lines per project.
func NewComposer(events EventSource, maxEvents int) *Composer {
	return &Composer{Events: events, MaxEvents: maxEvents}
}

// Compose gathers the events of user's projects that came after the event
// afterID. A user without a cursor (afterID 0) gets the events created at or
// after since instead. The user's own actions advance the cursor but are not
// listed.
func (c *Composer) Compose(ctx context.Context, db *gorm.DB, user domain.User, since time.Time, afterID uint64) (*Digest, error) {
	d := &Digest{User: user, Since: since}

	projects, err := repo.ListUserProjectIDs(ctx, db, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	for _, pid := range projects {
		events, err := c.events(ctx, pid, since, afterID)
		if err != nil {
			return nil, fmt.Errorf("events of %s: %w", pid, err)
		}
		if len(events) == 0 {
			continue
		}
		if last := events[len(events)-1].ID; last > d.Cursor {
			d.Cursor = last
		}

		listed := make([]domain.Event, 0, len(events))
		for _, ev := range events {
			if ev.ActorUserID != user.ID {
				listed = append(listed, ev)
			}
		}
		if len(listed) == 0 {
			continue
		}

		sec, err := c.section(ctx, db, pid, listed)
		if err != nil {
			return nil, err
		}
		d.Sections = append(d.Sections, sec)
		d.Events += len(listed)
	}
	return d, nil
}

func (c *Composer) events(ctx context.Context, projectID string, since time.Time, afterID uint64) ([]domain.Event, error) {
	if afterID > 0 {
		return c.Events.After(ctx, projectID, afterID)
	}
	return c.Events.Recent(ctx, projectID, since)
}

func (c *Composer) section(ctx context.Context, db *gorm.DB, projectID string, events []domain.Event) (Section, error) {
	sec := Section{ProjectID: projectID, ProjectName: projectID}
	if p, err := repo.GetProject(ctx, db, projectID); err == nil {
		sec.ProjectName = p.Name
	}

	shown := events
	if c.MaxEvents > 0 && len(shown) > c.MaxEvents {
		sec.More = len(shown) - c.MaxEvents
		shown = shown[:c.MaxEvents]
	}

	ids := make([]string, 0, len(shown))
	for _, ev := range shown {
		if ev.Ref.FeatureID != "" {
			ids = append(ids, ev.Ref.FeatureID)
		}
	}
	features, err := repo.GetFeaturesByIDs(ctx, db, ids)
	if err != nil {
		return sec, fmt.Errorf("load features: %w", err)
	}

	for _, ev := range shown {
		sec.Lines = append(sec.Lines, c.line(ev, features[ev.Ref.FeatureID]))
	}
	return sec, nil
}

func (c *Composer) line(ev domain.Event, f domain.Feature) string {
	title := f.Title
	if title == "" {
		title = ev.Ref.FeatureID
	}
	switch ev.Kind {
	case domain.EventCommentAdded:
		return fmt.Sprintf("%s commented on %q", ev.ActorUserID, title)
	case domain.EventStatusChanged:
		return fmt.Sprintf("%q changed status (now %s)", title, statusLabel(f.Status))
	case domain.EventVoteCast:
		return fmt.Sprintf("%s voted for %q", ev.ActorUserID, title)
	case domain.EventFeatureCreated:
		return fmt.Sprintf("%s proposed %q", ev.ActorUserID, title)
	case domain.EventFeatureDeleted:
		return fmt.Sprintf("%q was removed", title)
	}
	return fmt.Sprintf("%s on %q", ev.Kind, title)
}

// statusLabel turns a status into display text. Casers hold state, so each
// call gets its own.
func statusLabel(s domain.FeatureStatus) string {
	if s == "" {
		return "unknown"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// Render produces the subject and plain-text body of d.
func Render(d *Digest) (subject, body string) {
	noun := "updates"
	if d.Events == 1 {
		noun = "update"
	}
	subject = fmt.Sprintf("Feature board digest: %d %s", d.Events, noun)

	var b strings.Builder
	name := d.User.Name
	if name == "" {
		name = d.User.ID
	}
	fmt.Fprintf(&b, "Hi %s,\n\nHere is what happened on your projects since %s.\n",
		name, d.Since.UTC().Format("Jan 2, 2006 15:04 MST"))
	for _, sec := range d.Sections {
		fmt.Fprintf(&b, "\n%s\n", sec.ProjectName)
		for _, l := range sec.Lines {
			fmt.Fprintf(&b, "  - %s\n", l)
		}
		if sec.More > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", sec.More)
		}
	}
	b.WriteString("\nYou receive this because you follow these projects.\n")
	return subject, b.String()
}
