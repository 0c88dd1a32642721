package directory

import "github.com/disgoorg/snowflake/v2"

// Target is who an operation acts on: a resolved guild member, or just an
// account id for users that are not (or no longer) in the guild.
type Target interface {
	TargetID() snowflake.ID
	Name() string
	isTarget()
}

type MemberTarget struct {
	Member
}

func (t MemberTarget) TargetID() snowflake.ID { return t.UserID }

func (t MemberTarget) Name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.UserID.String()
}

func (MemberTarget) isTarget() {}

type AccountTarget struct {
	UserID      snowflake.ID
	DisplayName string
}

func (t AccountTarget) TargetID() snowflake.ID { return t.UserID }

func (t AccountTarget) Name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.UserID.String()
}

func (AccountTarget) isTarget() {}

// AsMember returns the live member behind t, if any.
func AsMember(t Target) (Member, bool) {
	if mt, ok := t.(MemberTarget); ok {
		return mt.Member, true
	}
	return Member{}, false
}
