package domain

import "time"

// EventKind names what happened. New kinds must also be registered with the
// event store before they can be appended.
type EventKind string

const (
	EventCommentAdded   EventKind = "comment_added"
	EventStatusChanged  EventKind = "status_changed"
	EventVoteCast       EventKind = "vote_cast"
	EventFeatureCreated EventKind = "feature_created"
	EventFeatureDeleted EventKind = "feature_deleted"
)

// AffectsStats reports whether an event of this kind can change the
// per-status feature counts of its project.
func (k EventKind) AffectsStats() bool {
	switch k {
	case EventStatusChanged, EventFeatureCreated, EventFeatureDeleted:
		return true
	}
	return false
}

// RefKind discriminates the entity an EntityRef points at.
type RefKind string

const (
	RefProject RefKind = "project"
	RefFeature RefKind = "feature"
	RefComment RefKind = "comment"
)

// EntityRef is a tagged reference to the entity an event is about. Kind
// selects which of the ids are meaningful; ProjectID is always set so events
// can be scoped per project.
type EntityRef struct {
	Kind      RefKind `json:"kind"                 gorm:"column:ref_kind;type:varchar(16);not null"`
	ProjectID string  `json:"project_id"           gorm:"column:project_id;type:char(36);not null;index:idx_events_project"`
	FeatureID string  `json:"feature_id,omitempty" gorm:"column:feature_id;type:char(36)"`
	CommentID string  `json:"comment_id,omitempty" gorm:"column:comment_id;type:char(36)"`
}

// FeatureRef builds a reference to a feature of a project.
func FeatureRef(projectID, featureID string) EntityRef {
	return EntityRef{Kind: RefFeature, ProjectID: projectID, FeatureID: featureID}
}

// CommentRef builds a reference to a comment on a feature.
func CommentRef(projectID, featureID, commentID string) EntityRef {
	return EntityRef{Kind: RefComment, ProjectID: projectID, FeatureID: featureID, CommentID: commentID}
}

// Event is an immutable record of a domain action.
//
// ID is assigned by storage from an AUTOINCREMENT column and is therefore
// strictly increasing. CreatedAt is assigned inside the appending transaction
// and never decreases within a project.
type Event struct {
	ID          uint64    `json:"id"                gorm:"primaryKey;autoIncrement"`
	Kind        EventKind `json:"kind"              gorm:"type:varchar(32);not null"`
	Ref         EntityRef `json:"source_entity_ref" gorm:"embedded"`
	ActorUserID string    `json:"actor_user_id"     gorm:"type:varchar(64);not null"`
	CreatedAt   time.Time `json:"created_at"        gorm:"not null"`
}

// TableName returns the database table name for Event.
func (Event) TableName() string { return "events" }
