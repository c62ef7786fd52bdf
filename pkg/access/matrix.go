package access

import (
	"time"
)

// Subject identifies who a rule applies to. Direct beneficiary subjects match
// on identifier equality; the remaining kinds are resolved through the
// identity collaborator (group membership, role assignment, trust level,
// relationship).
type Subject struct {
	Kind       SubjectKind `json:"kind"`
	Identifier string      `json:"identifier"`
}

// Resource identifies what a rule covers. An empty ID matches any instance
// of the type.
type Resource struct {
	Type ResourceType `json:"type"`
	ID   string       `json:"id,omitempty"`
}

// Matches reports whether this resource selector covers the requested
// (type, id) pair.
func (r Resource) Matches(resourceType ResourceType, resourceID string) bool {
	if r.Type != resourceType {
		return false
	}
	return r.ID == "" || r.ID == resourceID
}

// PermissionSet is the set of actions a rule grants on its resources
type PermissionSet struct {
	Read     bool `json:"read"`
	Write    bool `json:"write"`
	Delete   bool `json:"delete"`
	Share    bool `json:"share"`
	Download bool `json:"download"`
}

// Allows reports whether the set permits the given action
func (p PermissionSet) Allows(action Action) bool {
	switch action {
	case ActionRead:
		return p.Read
	case ActionWrite:
		return p.Write
	case ActionDelete:
		return p.Delete
	case ActionShare:
		return p.Share
	case ActionDownload:
		return p.Download
	default:
		return false
	}
}

// IsEmpty reports whether the set grants nothing
func (p PermissionSet) IsEmpty() bool {
	return !p.Read && !p.Write && !p.Delete && !p.Share && !p.Download
}

// Rule is a single access rule inside a matrix. Rules are immutable once a
// grant in force references them; the matrix version they were created under
// is recorded so in-flight grants can pin it.
type Rule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Subjects    []Subject     `json:"subjects"`
	Resources   []Resource    `json:"resources"`
	Permissions PermissionSet `json:"permissions"`
	Conditions  []Condition   `json:"conditions,omitempty"`
	Priority    int           `json:"priority"`
	CreatedSeq  int64         `json:"created_seq"`
	CreatedAt   time.Time     `json:"created_at"`
	Version     int64         `json:"version"`
}

// AccessControlMatrix is the versioned collection of access rules governing
// one owner's data. The version counter increments on every mutation so
// readers observe either the pre- or post-mutation rule set atomically.
type AccessControlMatrix struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	Rules     []Rule    `json:"rules"`
	NextSeq   int64     `json:"next_seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the matrix. Mutations operate on a clone and
// swap it in whole, never editing rules in place.
func (m *AccessControlMatrix) Clone() *AccessControlMatrix {
	clone := *m
	clone.Rules = make([]Rule, len(m.Rules))
	for i, rule := range m.Rules {
		clone.Rules[i] = rule.clone()
	}
	return &clone
}

func (r Rule) clone() Rule {
	c := r
	c.Subjects = append([]Subject(nil), r.Subjects...)
	c.Resources = append([]Resource(nil), r.Resources...)
	c.Conditions = make([]Condition, len(r.Conditions))
	for i, cond := range r.Conditions {
		c.Conditions[i] = cond.clone()
	}
	return c
}

// FindRule returns the rule with the given id, or nil
func (m *AccessControlMatrix) FindRule(ruleID string) *Rule {
	for i := range m.Rules {
		if m.Rules[i].ID == ruleID {
			return &m.Rules[i]
		}
	}
	return nil
}

// PermissionEvaluation is the result of evaluating a disclosure request.
// Every denial carries a machine-readable reason, never a bare boolean.
type PermissionEvaluation struct {
	Decision          Decision        `json:"decision"`
	RuleID            string          `json:"rule_id,omitempty"`
	RuleName          string          `json:"rule_name,omitempty"`
	Permissions       PermissionSet   `json:"permissions"`
	PendingConditions []ConditionType `json:"pending_conditions,omitempty"`
	Reason            string          `json:"reason"`
	MatrixVersion     int64           `json:"matrix_version"`
	ViaGrantID        string          `json:"via_grant_id,omitempty"`
	EvaluatedAt       time.Time       `json:"evaluated_at"`
}

// Allowed reports whether the evaluation granted access
func (e *PermissionEvaluation) Allowed() bool {
	return e.Decision == DecisionAllowed
}
