package relay

import (
	"encoding/binary"

	"github.com/MrKareem1980/globed2/internal/protocol"
)

// RoleSet is the computed set of roles derived from the role list the
// central service returned at login.
type RoleSet struct {
	Roles []string
}

// Has reports whether the role set contains name.
func (r RoleSet) Has(name string) bool {
	for _, have := range r.Roles {
		if have == name {
			return true
		}
	}
	return false
}

// Marshal encodes the role catalog for the LoggedIn packet's AllRoles
// field: a 4-byte count followed by each role as a length-prefixed string.
func (r RoleSet) Marshal() []byte {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(r.Roles)))
	buf := append([]byte{}, countBuf[:]...)
	for _, role := range r.Roles {
		buf = protocol.PutInlineString(buf, role)
	}
	return buf
}

// SpecialUserProfile is derived from the role set; a session has at most
// one, or none.
type SpecialUserProfile struct {
	Tag   string
	Color uint32
}

// Marshal encodes the special-user tag and color for the LoggedIn packet's
// SpecialUserData field. A nil receiver marshals to an empty blob, meaning
// "no special profile" on the wire.
func (p *SpecialUserProfile) Marshal() []byte {
	if p == nil {
		return nil
	}
	buf := protocol.PutInlineString(nil, p.Tag)
	var colorBuf [4]byte
	binary.LittleEndian.PutUint32(colorBuf[:], p.Color)
	return append(buf, colorBuf[:]...)
}

// AccountData is filled once at login and immutable thereafter, except for
// in-session role recomputation triggered by an external refresh (out of
// scope for this core).
type AccountData struct {
	AccountID   int32
	UserID      int32
	DisplayName string
	Icons       protocol.IconSet
	Platform    string
	Roles       RoleSet
	Special     *SpecialUserProfile
}
